package cryptox

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNumericCode(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid lengths", func(t *testing.T) {
		_, err := NewNumericCode(0)
		require.Error(t, err)

		_, err = NewNumericCode(19)
		require.Error(t, err)
	})

	t.Run("always produces the requested number of digits", func(t *testing.T) {
		for range 200 {
			code, err := NewNumericCode(6)
			require.NoError(t, err)
			require.Len(t, code, 6)

			n, err := strconv.Atoi(code)
			require.NoError(t, err)
			require.GreaterOrEqual(t, n, 0)
			require.Less(t, n, 1000000)
		}
	})
}

func TestNewBackupCode(t *testing.T) {
	t.Parallel()

	for range 100 {
		code, err := NewBackupCode()
		require.NoError(t, err)
		require.Len(t, code, BackupCodeLength)
		require.Equal(t, strings.ToUpper(code), code)

		for _, r := range code {
			require.Contains(t, backupCharset, string(r))
		}
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "AB12CD34", NormalizeBackupCode("  ab12cd34 "))
	require.Equal(t, "AB12CD34", NormalizeBackupCode("AB12CD34"))
}
