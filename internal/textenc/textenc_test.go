package textenc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"
)

func TestNFC_ComposesHangul(t *testing.T) {
	t.Parallel()

	decomposed := norm.NFD.String("원천데이터")
	require.NotEqual(t, "원천데이터", decomposed)
	assert.Equal(t, "원천데이터", NFC(decomposed))
}

func TestToUTF8(t *testing.T) {
	t.Parallel()

	const text = `{"data": "라벨링데이터"}`

	eucKR, err := korean.EUCKR.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)

	utf16LE, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
	}{
		{name: "plain", in: []byte(text)},
		{name: "utf8_bom", in: append([]byte{0xEF, 0xBB, 0xBF}, text...)},
		{name: "utf16le_bom", in: utf16LE},
		{name: "euc_kr", in: eucKR},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToUTF8(tc.in)
			require.NoError(t, err)
			assert.Equal(t, text, string(got))
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
