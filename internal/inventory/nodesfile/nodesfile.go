// Package nodesfile reads the cluster nodes conf file.
//
// The file is plain text. Blank lines and lines starting with '#' are ignored.
// Each remaining line is one host:
//
//	user@host[:port] [password]
//
// A file may be split into sections with "[name]" headers. When any header is
// present only the entries under [blockchain_nodes] are used.
package nodesfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/3cpo-dev/chaindeploy/internal/inventory"
)

// Section is the header that selects blockchain hosts in a sectioned file.
const Section = "blockchain_nodes"

var hostnameRE = regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

// LineError is a problem with a single entry.
type LineError struct {
	Line int
	Text string
	Msg  string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// FormatError collects every malformed entry in a file.
type FormatError struct {
	Path     string
	Problems []LineError
}

func (e *FormatError) Error() string {
	var b strings.Builder
	name := e.Path
	if name == "" {
		name = "nodes file"
	}
	fmt.Fprintf(&b, "%s has %d malformed entr", name, len(e.Problems))
	if len(e.Problems) == 1 {
		b.WriteString("y")
	} else {
		b.WriteString("ies")
	}
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.Error())
	}
	return b.String()
}

type rawLine struct {
	n    int
	text string
}

// entries returns the candidate host lines of the selected section.
func entries(r io.Reader) ([]rawLine, error) {
	type tagged struct {
		rawLine
		section string
	}
	var (
		all      []tagged
		section  string
		sections bool
	)
	s := bufio.NewScanner(r)
	n := 0
	for s.Scan() {
		n++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			sections = true
			continue
		}
		all = append(all, tagged{rawLine: rawLine{n: n, text: line}, section: section})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read nodes file: %w", err)
	}
	out := make([]rawLine, 0, len(all))
	for _, t := range all {
		if (!sections && t.section == "") || t.section == Section {
			out = append(out, t.rawLine)
		}
	}
	return out, nil
}

// Count returns the number of candidate entries without validating them.
func Count(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open nodes file: %w", err)
	}
	defer f.Close()
	lines, err := entries(f)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// Parse validates every entry and returns the hosts in file order. Entries
// without a port get inventory.DefaultSSHPort.
func Parse(r io.Reader) ([]inventory.Host, error) {
	return ParsePort(r, inventory.DefaultSSHPort)
}

// ParsePort is Parse with a different port for entries that omit one.
func ParsePort(r io.Reader, defaultPort int) ([]inventory.Host, error) {
	lines, err := entries(r)
	if err != nil {
		return nil, err
	}
	var (
		hosts    []inventory.Host
		problems []LineError
		seen     = map[string]int{}
	)
	for _, l := range lines {
		h, msg := parseEntry(l.text, defaultPort)
		if msg != "" {
			problems = append(problems, LineError{Line: l.n, Text: l.text, Msg: msg})
			continue
		}
		h.Line = l.n
		if prev, ok := seen[h.Address()]; ok {
			problems = append(problems, LineError{Line: l.n, Text: l.text, Msg: fmt.Sprintf("duplicate of line %d", prev)})
			continue
		}
		seen[h.Address()] = l.n
		hosts = append(hosts, h)
	}
	if len(problems) > 0 {
		return nil, &FormatError{Problems: problems}
	}
	return hosts, nil
}

// Load parses the nodes file at path.
func Load(path string) ([]inventory.Host, error) {
	return LoadPort(path, inventory.DefaultSSHPort)
}

func LoadPort(path string, defaultPort int) ([]inventory.Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nodes file: %w", err)
	}
	defer f.Close()
	hosts, err := ParsePort(f, defaultPort)
	if ferr, ok := err.(*FormatError); ok {
		ferr.Path = path
	}
	return hosts, err
}

// Check reports whether the file at path is well formed.
func Check(path string) error {
	_, err := Load(path)
	return err
}

func parseEntry(text string, defaultPort int) (inventory.Host, string) {
	fields := strings.Fields(text)
	if len(fields) > 2 {
		return inventory.Host{}, "expected user@host[:port] [password]"
	}
	at := strings.LastIndex(fields[0], "@")
	if at < 0 {
		return inventory.Host{}, "missing user@"
	}
	user, target := fields[0][:at], fields[0][at+1:]
	if user == "" {
		return inventory.Host{}, "empty user"
	}
	host, port, msg := splitTarget(target, defaultPort)
	if msg != "" {
		return inventory.Host{}, msg
	}
	h := inventory.Host{Name: host, Addr: host, User: user, Port: port}
	if port != defaultPort {
		h.Name = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if len(fields) == 2 {
		h.Password = fields[1]
	}
	return h, ""
}

func splitTarget(target string, defaultPort int) (string, int, string) {
	if target == "" {
		return "", 0, "empty host"
	}
	if strings.HasSuffix(target, ":") {
		return "", 0, "invalid port"
	}
	host, port := target, defaultPort
	if strings.HasPrefix(target, "[") || strings.Count(target, ":") == 1 {
		h, p, err := net.SplitHostPort(target)
		if err != nil {
			if !strings.HasPrefix(target, "[") || !strings.HasSuffix(target, "]") {
				return "", 0, "invalid host:port"
			}
			h, p = strings.Trim(target, "[]"), ""
		}
		host = h
		if p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 || n > 65535 {
				return "", 0, "invalid port"
			}
			port = n
		}
	}
	if net.ParseIP(host) == nil && !hostnameRE.MatchString(host) {
		return "", 0, "invalid host"
	}
	return host, port, ""
}

// Source exposes a nodes file as an inventory source.
type Source struct {
	Path        string
	DefaultPort int
}

// New returns a Source for path. A defaultPort of 0 means
// inventory.DefaultSSHPort.
func New(path string, defaultPort int) *Source {
	if defaultPort == 0 {
		defaultPort = inventory.DefaultSSHPort
	}
	return &Source{Path: path, DefaultPort: defaultPort}
}

func (s *Source) Name() string { return "nodesfile" }

func (s *Source) Hosts(ctx context.Context) ([]inventory.Host, error) {
	_ = ctx
	return LoadPort(s.Path, s.DefaultPort)
}

// Count counts the candidate entries of the file.
func (s *Source) Count() (int, error) { return Count(s.Path) }
