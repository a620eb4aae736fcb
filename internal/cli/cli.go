// Package cli implements carmine's interactive REPL: a redis-cli-alike
// that drives carmine's own Session and wire codec instead of hand-rolling
// RESP text, so the one binary this module ships exercises the client it's
// shipping. Terminal handling covers raw mode and arrow-key history
// navigation.
package cli

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	carmine "github.com/bpoweski/carmine"
	"github.com/bpoweski/carmine/internal/wire"
)

// CLIConfig holds the configuration for one carmine-cli invocation.
type CLIConfig struct {
	Host     string
	Port     int
	Password string
	Database int
	Cluster  string
	Timeout  time.Duration
	TLS      bool
	Raw      bool
	Eval     string
	File     string
	Pipe     bool
}

// CommandHistory manages command history for the CLI.
type CommandHistory struct {
	commands []string
	position int
	maxSize  int
}

// NewCommandHistory creates a new command history with specified max size.
func NewCommandHistory(maxSize int) *CommandHistory {
	return &CommandHistory{
		commands: make([]string, 0, maxSize),
		position: 0,
		maxSize:  maxSize,
	}
}

func (h *CommandHistory) Len() int {
	return len(h.commands)
}

// Add adds a command to history.
func (h *CommandHistory) Add(command string) {
	if command == "" || (len(h.commands) > 0 && h.commands[len(h.commands)-1] == command) {
		return
	}
	h.commands = append(h.commands, command)
	if len(h.commands) > h.maxSize {
		h.commands = h.commands[1:]
	}
	h.position = len(h.commands)
}

// Previous returns the previous command in history.
func (h *CommandHistory) Previous() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position >= len(h.commands) {
		h.position = len(h.commands) - 1
		return h.commands[h.position]
	}
	if h.position > 0 {
		h.position--
		return h.commands[h.position]
	}
	return ""
}

// Next returns the next command in history.
func (h *CommandHistory) Next() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position < len(h.commands)-1 {
		h.position++
		return h.commands[h.position]
	}
	h.position = len(h.commands)
	return ""
}

// ResetPosition resets the position to the end (current input).
func (h *CommandHistory) ResetPosition() {
	h.position = len(h.commands)
}

// dialConn is the transport.Conn this CLI leases its one connection as: a
// thin bufio wrapper around either a plain or TLS net.Conn, matching the
// shape internal/transport.Conn needs without pulling TLS dialing into that
// package (the default DialPool never needed it; the CLI does).
type dialConn struct {
	nc   net.Conn
	spec carmine.Spec
	r    *bufio.Reader
	w    *bufio.Writer
}

func (c *dialConn) Reader() *bufio.Reader { return c.r }
func (c *dialConn) Writer() *bufio.Writer { return c.w }
func (c *dialConn) Spec() carmine.Spec    { return c.spec }
func (c *dialConn) Close() error          { return c.nc.Close() }

// singleConnPool hands out the one dialed connection and closes it on any
// reported failure; the CLI is a single-shot program, not a long-lived
// pool client, so there is no free list to maintain.
type singleConnPool struct {
	config *CLIConfig
	spec   carmine.Spec
	conn   *dialConn
}

func newSingleConnPool(config *CLIConfig) (*singleConnPool, error) {
	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	spec := carmine.Spec{Addr: addr, Cluster: config.Cluster}

	var nc net.Conn
	var err error
	if config.TLS {
		nc, err = tls.DialWithDialer(&net.Dialer{Timeout: config.Timeout}, "tcp", addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	} else {
		nc, err = net.DialTimeout("tcp", addr, config.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("cli: dial %s: %w", addr, err)
	}

	conn := &dialConn{nc: nc, spec: spec, r: bufio.NewReader(nc), w: bufio.NewWriter(nc)}
	return &singleConnPool{config: config, spec: spec, conn: conn}, nil
}

func (p *singleConnPool) Get(carmine.Spec) (carmine.Conn, error) { return p.conn, nil }
func (p *singleConnPool) Put(_ carmine.Conn, failure error) {
	if failure != nil {
		_ = p.conn.Close()
	}
}
func (p *singleConnPool) Close() error { return p.conn.Close() }

// newSession dials one connection per config and returns a Session ready to
// drive it, having already run AUTH/SELECT if configured.
func newSession(config *CLIConfig) (*carmine.Session, *singleConnPool, error) {
	pool, err := newSingleConnPool(config)
	if err != nil {
		return nil, nil, err
	}
	sess := carmine.NewSession(pool, pool.spec)

	if config.Password != "" {
		if _, err := sess.Do([][]byte{[]byte("AUTH"), []byte(config.Password)}); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("cli: authentication failed: %w", err)
		}
	}
	if config.Database != 0 {
		if _, err := sess.Do([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(config.Database))}); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("cli: database selection failed: %w", err)
		}
	}
	return sess, pool, nil
}

// runLine sends one typed command line through sess and prints its reply,
// reusing wire.EncodeInline's whitespace tokenizer (no shell-style quoting,
// matching redis-cli's own inline command parsing) to build the argument
// vector.
func runLine(sess *carmine.Session, line string, raw bool) error {
	args := wire.EncodeInline(line)
	if len(args) == 0 {
		return fmt.Errorf("invalid command: %s", line)
	}
	reply, err := sess.Do(args)
	if err != nil {
		return err
	}
	if raw {
		fmt.Println(formatRawReply(reply))
	} else {
		fmt.Println(formatReply(reply))
	}
	return nil
}

// formatReply renders an application-level carmine.Reply the way
// redis-cli renders a decoded RESP value: it operates one layer above
// wire.FormatReply, since by the time a Reply reaches here carmine's
// tunneled bulk markers have already been peeled back into BulkKind.
func formatReply(r carmine.Reply) string {
	switch r.Kind {
	case carmine.KindSimpleString:
		return r.Simple
	case carmine.KindInteger:
		return fmt.Sprintf("(integer) %d", r.Int)
	case carmine.KindError:
		return "(error) " + r.Err.Message
	case carmine.KindBulk:
		switch r.Bulk.Kind {
		case carmine.BulkNil:
			return "(nil)"
		case carmine.BulkRaw:
			return fmt.Sprintf("%q", r.Bulk.Bytes)
		case carmine.BulkObject:
			return fmt.Sprintf("%v", r.Bulk.Object)
		default:
			return r.Bulk.Text
		}
	case carmine.KindArray:
		if r.ArrayNull {
			return "(nil)"
		}
		var b strings.Builder
		for i, el := range r.Array {
			fmt.Fprintf(&b, "%d) %s\n", i+1, formatReply(el))
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return "(unknown)"
	}
}

// formatRawReply is formatReply's --raw counterpart: text where the server
// gave text, with none of redis-cli's "(integer)"/"(nil)" decoration.
func formatRawReply(r carmine.Reply) string {
	switch r.Kind {
	case carmine.KindSimpleString:
		return r.Simple
	case carmine.KindInteger:
		return fmt.Sprintf("%d", r.Int)
	case carmine.KindError:
		return r.Err.Message
	case carmine.KindBulk:
		switch r.Bulk.Kind {
		case carmine.BulkNil:
			return ""
		case carmine.BulkRaw:
			return string(r.Bulk.Bytes)
		case carmine.BulkObject:
			return fmt.Sprintf("%v", r.Bulk.Object)
		default:
			return r.Bulk.Text
		}
	case carmine.KindArray:
		var b strings.Builder
		for _, el := range r.Array {
			b.WriteString(formatRawReply(el))
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return ""
	}
}

func executeCommand(sess *carmine.Session, command string, raw bool) {
	if err := runLine(sess, command, raw); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func executeFile(sess *carmine.Session, filename string, raw bool) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file %s: %v\n", filename, err)
		os.Exit(1)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := runLine(sess, line, raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error at line %d: %v\n", lineNum, err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
}

func executePipe(sess *carmine.Session, raw bool) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runLine(sess, line, raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
		os.Exit(1)
	}
}

func executeInteractive(sess *carmine.Session, config *CLIConfig) {
	fmt.Printf("carmine-cli\n")
	fmt.Printf("Connected to %s:%d\n", config.Host, config.Port)
	if config.Database != 0 {
		fmt.Printf("Using database %d\n", config.Database)
	}
	fmt.Printf("Type 'help' for commands, 'quit' to exit\n")
	fmt.Printf("Use arrow keys to navigate command history\n\n")

	history := NewCommandHistory(100)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "\r\nWarning: could not set terminal to raw mode, arrow key navigation disabled: %v\r\n", err)
		executeInteractiveFallback(sess, config, history)
		return
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("carmine> ")
		input, err := readInputWithHistory(reader, history)
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			break
		}
		if input == "help" {
			printHelp()
			continue
		}
		if input == "clear" {
			fmt.Print("\033[H\033[2J")
			continue
		}

		history.Add(input)
		if err := runLine(sess, input, config.Raw); err != nil {
			fmt.Fprintf(os.Stderr, "\rError: %v\r\n", err)
			continue
		}
	}

	fmt.Print("\rGoodbye!")
}

// executeInteractiveFallback is used when raw mode is not available: plain
// line-buffered reads, no history navigation via arrow keys.
func executeInteractiveFallback(sess *carmine.Session, config *CLIConfig, history *CommandHistory) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("carmine> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			break
		}
		if input == "help" {
			printHelp()
			continue
		}
		if input == "clear" {
			fmt.Print("\033[H\033[2J")
			continue
		}

		history.Add(input)
		if err := runLine(sess, input, config.Raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
	}
	fmt.Println("Goodbye!")
}

// readInputWithHistory reads input with arrow key support for history
// navigation.
func readInputWithHistory(reader *bufio.Reader, history *CommandHistory) (string, error) {
	var input strings.Builder
	cursorPos := 0

	for {
		char, err := reader.ReadByte()
		if err != nil {
			return "", err
		}

		if char == 27 { // ESC
			nextChar, err := reader.ReadByte()
			if err != nil {
				return "", err
			}
			if nextChar == 91 { // [
				thirdChar, err := reader.ReadByte()
				if err != nil {
					return "", err
				}
				switch thirdChar {
				case 65: // Up arrow
					if history.Len() == 0 {
						continue
					}
					fmt.Print("\r\033[K")
					prevCmd := history.Previous()
					input.Reset()
					input.WriteString(prevCmd)
					cursorPos = len(prevCmd)
					fmt.Print("carmine> " + prevCmd)
					continue
				case 66: // Down arrow
					fmt.Print("\r\033[K")
					nextCmd := history.Next()
					input.Reset()
					input.WriteString(nextCmd)
					cursorPos = len(nextCmd)
					fmt.Print("carmine> " + nextCmd)
					continue
				case 67: // Right arrow
					if cursorPos < input.Len() {
						cursorPos++
						fmt.Print("\033[C")
					}
					continue
				case 68: // Left arrow
					if cursorPos > 0 {
						cursorPos--
						fmt.Print("\033[D")
					}
					continue
				case 72: // Home
					fmt.Print("\rcarmine> ")
					cursorPos = 0
					continue
				case 70: // End
					fmt.Printf("\033[%dC", input.Len()-cursorPos)
					cursorPos = input.Len()
					continue
				case 51: // Delete
					deleteChar, err := reader.ReadByte()
					if err != nil {
						return "", err
					}
					if deleteChar == 126 && cursorPos < input.Len() {
						current := input.String()
						newStr := current[:cursorPos] + current[cursorPos+1:]
						input.Reset()
						input.WriteString(newStr)
						fmt.Print("\033[P")
					}
					continue
				}
			}
		}

		if char == 127 { // Backspace
			if cursorPos > 0 {
				current := input.String()
				newStr := current[:cursorPos-1] + current[cursorPos:]
				input.Reset()
				input.WriteString(newStr)
				cursorPos--
				fmt.Print("\b \b")
			}
			continue
		}

		if char == 3 { // Ctrl+C
			fmt.Print("\r\nUse 'quit' or 'exit' to exit the CLI\n")
			fmt.Print("\rcarmine> ")
			input.Reset()
			cursorPos = 0
			continue
		}

		if char == 10 || char == 13 { // Enter
			fmt.Println()
			return input.String(), nil
		}

		if char >= 32 && char <= 126 {
			current := input.String()
			newStr := current[:cursorPos] + string(char) + current[cursorPos:]
			input.Reset()
			input.WriteString(newStr)
			cursorPos++
			fmt.Print(string(char))
		}
	}
}

func printHelp() {
	fmt.Println("\rcarmine-cli commands:\r")
	fmt.Println("\r  help                    - Show this help\r")
	fmt.Println("\r  quit, exit              - Exit the CLI\r")
	fmt.Println("\r  clear                   - Clear the screen\r")
	fmt.Println("\r\r")
	fmt.Println("\rNavigation:\r")
	fmt.Println("\r  arrow keys              - Navigate command history\r")
	fmt.Println("\r  <-/-> arrows            - Move cursor left/right\r")
	fmt.Println("\r  Home/End                - Move to start/end of line\r")
	fmt.Println("\r  Backspace               - Delete character\r")
	fmt.Println("\r\r")
	fmt.Println("\rAny command is sent through carmine's own Session and\r")
	fmt.Println("\rwire codec, pipelined one line at a time (PING, GET, SET,\r")
	fmt.Println("\rDEL, EXISTS, EXPIRE, INCR, DUMP, RESTORE, ASKING, ...).\r")
	fmt.Println("\r")
}

// RunCLI dials one connection per config, optionally authenticates and
// selects a database, and dispatches to whichever mode the config
// describes (single eval, file, pipe, or interactive).
func RunCLI(config *CLIConfig, args []string) {
	sess, pool, err := newSession(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch {
	case config.Eval != "":
		executeCommand(sess, config.Eval, config.Raw)
	case len(args) > 0:
		executeCommand(sess, strings.Join(args, " "), config.Raw)
	case config.File != "":
		executeFile(sess, config.File, config.Raw)
	case config.Pipe:
		executePipe(sess, config.Raw)
	default:
		executeInteractive(sess, config)
	}
}
