package checksum

import (
	"io"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader("hello world"))

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", r.Sum())
	assert.Equal(t, int64(11), r.N())

	select {
	case <-r.Closed():
		t.Fatal("expected reader to be open")
	default:
	}
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	<-r.Closed()
}

func TestStripQuotes(t *testing.T) {
	tests := map[string]string{
		`"abc"`:   "abc",
		`abc`:     "abc",
		`""abc""`: `"abc"`,
		`"abc`:    `"abc`,
		`"`:       `"`,
		``:        ``,
		`""`:      ``,
	}
	for in, want := range tests {
		assert.Equal(t, want, StripQuotes(in), "input %q", in)
	}
}

func TestMatches(t *testing.T) {
	sum := Of([]byte("abc"))
	assert.True(t, Matches(`"`+sum+`"`, sum))
	assert.True(t, Matches(strings.ToUpper(sum), sum))
	assert.False(t, Matches(`"deadbeef"`, sum))
	assert.False(t, Matches(`""`+sum+`""`, sum))
	assert.False(t, Matches("", sum))
}

func TestIntegrityProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("an etag of other content never matches", prop.ForAll(
		func(content, other string) bool {
			if content == other {
				return true
			}
			r := NewReader(strings.NewReader(content))
			if _, err := io.Copy(io.Discard, r); err != nil {
				return false
			}
			return !Matches(`"`+Of([]byte(other))+`"`, r.Sum())
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("an etag of the streamed content always matches", prop.ForAll(
		func(content string, quoted bool) bool {
			r := NewReader(strings.NewReader(content))
			if _, err := io.Copy(io.Discard, r); err != nil {
				return false
			}
			etag := Of([]byte(content))
			if quoted {
				etag = `"` + etag + `"`
			}
			return Matches(etag, r.Sum())
		},
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
