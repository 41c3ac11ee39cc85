package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/loykin/piperun/internal/common"
)

func TestMaskingWriter(t *testing.T) {
	m := common.NewMasker()
	m.AddSecret("hunter2")
	var buf bytes.Buffer
	w := newMaskingWriter(&buf, m)

	// secret split across writes must still be masked
	_, _ = w.Write([]byte("got hun"))
	if buf.Len() != 0 {
		t.Fatalf("partial line flushed early: %q", buf.String())
	}
	_, _ = w.Write([]byte("ter2\ntail hunter2"))
	if got := buf.String(); got != "got "+common.MaskedValue+"\n" {
		t.Fatalf("got %q", got)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "hunter2") || !strings.HasSuffix(buf.String(), "tail "+common.MaskedValue) {
		t.Fatalf("got %q", buf.String())
	}
}

func TestMaskingWriter_LongLineFlushes(t *testing.T) {
	var buf bytes.Buffer
	w := newMaskingWriter(&buf, common.NewMasker())
	_, _ = w.Write(bytes.Repeat([]byte("x"), maxPending+10))
	if buf.Len() != maxPending+10 {
		t.Fatalf("flushed %d bytes", buf.Len())
	}
}

func TestMaskingWriter_ForcedFlushKeepsSecretWhole(t *testing.T) {
	m := common.NewMasker()
	m.AddSecret("SECRET-VALUE-123")
	var buf bytes.Buffer
	w := newMaskingWriter(&buf, m)

	head := bytes.Repeat([]byte("x"), maxPending-5)
	_, _ = w.Write(append(head, "SECRE"...))
	if buf.Len() != len(head) {
		t.Fatalf("flushed %d bytes, want %d", buf.Len(), len(head))
	}
	_, _ = w.Write([]byte("T-VALUE-123\n"))
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "SECRE") || strings.Contains(out, "VALUE-123") {
		t.Fatal("secret split across a forced flush leaked")
	}
	if !strings.HasSuffix(out, common.MaskedValue+"\n") {
		t.Fatalf("tail = %q", out[len(out)-40:])
	}
}
