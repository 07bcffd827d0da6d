package nodesfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNodes(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockchain_nodes")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestCount(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty", "", 0},
		{"comments only", "# nothing\n\n   # here\n", 0},
		{"plain", "root@10.0.0.1\nroot@10.0.0.2 secret\n", 2},
		{"sectioned", "[other]\nroot@10.0.0.9\n[blockchain_nodes]\nroot@10.0.0.1\n", 1},
		{"header without entries", "[blockchain_nodes]\n# none yet\n", 0},
		{"malformed still counted", "not-an-entry\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Count(writeNodes(t, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestCountMissingFile(t *testing.T) {
	_, err := Count(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	content := `# cluster
[blockchain_nodes]
root@10.0.0.1   p4ss
deploy@node-2.example.com:2222
admin@[fe80::1]:2200
`
	hosts, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, hosts, 3)

	assert.Equal(t, "10.0.0.1", hosts[0].Addr)
	assert.Equal(t, "root", hosts[0].User)
	assert.Equal(t, 22, hosts[0].Port)
	assert.Equal(t, "p4ss", hosts[0].Password)
	assert.Equal(t, 3, hosts[0].Line)
	assert.Equal(t, "10.0.0.1", hosts[0].Name)

	assert.Equal(t, "node-2.example.com", hosts[1].Addr)
	assert.Equal(t, 2222, hosts[1].Port)
	assert.Equal(t, "node-2.example.com:2222", hosts[1].Name)

	assert.Equal(t, "fe80::1", hosts[2].Addr)
	assert.Equal(t, "[fe80::1]:2200", hosts[2].Address())
}

func TestParseRejectsMalformedEntries(t *testing.T) {
	tests := []struct {
		line string
		msg  string
	}{
		{"10.0.0.1", "missing user@"},
		{"@10.0.0.1", "empty user"},
		{"root@", "empty host"},
		{"root@10.0.0.1:99999", "invalid port"},
		{"root@10.0.0.1:", "invalid port"},
		{"root@bad_host!", "invalid host"},
		{"root@10.0.0.1 pw extra", "expected user@host[:port] [password]"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.line + "\n"))
			var ferr *FormatError
			require.ErrorAs(t, err, &ferr)
			require.Len(t, ferr.Problems, 1)
			assert.Equal(t, 1, ferr.Problems[0].Line)
			assert.Equal(t, tt.msg, ferr.Problems[0].Msg)
		})
	}
}

func TestParseCollectsAllProblems(t *testing.T) {
	content := "root@10.0.0.1\nbroken\nroot@10.0.0.1\n"
	_, err := Parse(strings.NewReader(content))
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
	require.Len(t, ferr.Problems, 2)
	assert.Equal(t, 2, ferr.Problems[0].Line)
	assert.Equal(t, "duplicate of line 1", ferr.Problems[1].Msg)
	assert.Contains(t, err.Error(), "2 malformed entries")
}

func TestCheckNamesFile(t *testing.T) {
	path := writeNodes(t, "oops\n")
	err := Check(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.NoError(t, Check(writeNodes(t, "root@10.0.0.1\n")))
}

func TestSource(t *testing.T) {
	src := New(writeNodes(t, "root@10.0.0.1\nroot@10.0.0.2\n"), 0)
	assert.Equal(t, "nodesfile", src.Name())
	hosts, err := src.Hosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, hosts, 2)
}

func TestSourceDefaultPort(t *testing.T) {
	src := New(writeNodes(t, "root@10.0.0.1\nroot@10.0.0.2:22\n"), 2200)
	hosts, err := src.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "10.0.0.1:2200", hosts[0].Address())
	assert.Equal(t, "10.0.0.1", hosts[0].Name)
	assert.Equal(t, "10.0.0.2:22", hosts[1].Address())
	assert.Equal(t, "10.0.0.2:22", hosts[1].Name)

	n, err := src.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
