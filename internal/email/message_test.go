package email

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageString(t *testing.T) {
	t.Parallel()

	m := NewMessage("Subject: hi\r\nTo: a@example.com", "body text\r\n")

	want := "Subject: hi\r\nTo: a@example.com\r\n\r\nbody text\r\n"
	require.Equal(t, want, m.String())
	require.Equal(t, want, string(m.Bytes()))
	require.Equal(t, "Subject: hi\r\nTo: a@example.com", m.Header())
	require.Equal(t, "body text\r\n", m.Body())
}
