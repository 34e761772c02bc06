// Package txn serializes a solver solution into FETCH, EXTRACT, UNLINK
// and LINK phases executed against a prefix with crash safety and history
// journalling.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package txn

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseLinkType(t *testing.T) {
	var (
		plain    = &specs.PathEntry{Path: "x", PathType: specs.PathHardlink}
		soft     = &specs.PathEntry{Path: "x", PathType: specs.PathSoftlink}
		noLink   = &specs.PathEntry{Path: "x", NoLink: true}
		rewrite  = &specs.PathEntry{Path: "x", PrefixPlaceholder: "/opt/placeholder"}
		defaults = &conf.LinkPolicy{}
	)
	assert.Equal(t, LinkTypeHardlink, chooseLinkType(plain, defaults))
	assert.Equal(t, LinkTypeSoftlink, chooseLinkType(soft, defaults))
	assert.Equal(t, LinkTypeCopy, chooseLinkType(noLink, defaults))
	assert.Equal(t, LinkTypeCopy, chooseLinkType(rewrite, defaults))

	assert.Equal(t, LinkTypeCopy,
		chooseLinkType(plain, &conf.LinkPolicy{AlwaysCopy: true}))
	assert.Equal(t, LinkTypeSoftlink,
		chooseLinkType(plain, &conf.LinkPolicy{AlwaysSoftlink: true, AllowSoftlinks: true}))
}

func TestLinkFileConflict(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("y"), 0o644))

	err := linkFile(src, dst, LinkTypeHardlink)
	require.Error(t, err)
	assert.Equal(t, cmn.KindLinkConflict, cmn.KindOf(err))
}

func TestBinaryReplacePreservesLength(t *testing.T) {
	placeholder := []byte("/opt/anaconda1anaconda2anaconda3")
	newPrefix := []byte("/home/u/envs/x")

	data := append([]byte("HEAD"), placeholder...)
	data = append(data, []byte("/bin/python\x00TAIL")...)
	out, err := binaryReplace(data, placeholder, newPrefix)
	require.NoError(t, err)
	assert.Len(t, out, len(data), "binary rewrite keeps byte length")
	assert.True(t, bytes.HasPrefix(out, []byte("HEAD")))
	assert.Contains(t, string(out), "/home/u/envs/x/bin/python\x00")
	assert.True(t, bytes.HasSuffix(out, []byte("TAIL")))

	// Padding NULs fill the difference.
	pad := len(placeholder) - len(newPrefix)
	idx := bytes.Index(out, []byte("/bin/python"))
	zeros := out[idx+len("/bin/python") : idx+len("/bin/python")+pad+1]
	for _, b := range zeros {
		assert.EqualValues(t, 0, b)
	}
}

func TestBinaryReplaceRejectsLongerPrefix(t *testing.T) {
	_, err := binaryReplace([]byte("abc"), []byte("ab"), []byte("abcdef"))
	require.Error(t, err)
}

func TestRewritePlaceholderText(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.sh")
	dst := filepath.Join(dir, "dst.sh")
	require.NoError(t, os.WriteFile(src,
		[]byte("#!/opt/placeholder/bin/sh\nPREFIX=/opt/placeholder\n"), 0o755))

	entry := &specs.PathEntry{
		Path:              "dst.sh",
		PrefixPlaceholder: "/opt/placeholder",
		FileMode:          specs.FileModeText,
	}
	require.NoError(t, rewritePlaceholder(src, dst, entry, "/real/prefix"))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/real/prefix/bin/sh\nPREFIX=/real/prefix\n", string(data))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm(), "mode preserved")
}
