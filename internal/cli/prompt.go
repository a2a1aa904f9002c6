package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/LeJamon/xrplwatch/internal/signer"
)

// consolePrompt hands delegated signature requests to the operator: it
// prints the unsigned transaction and reads the signed blob from the
// terminal. An empty answer rejects the request.
type consolePrompt struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsolePrompt(in io.Reader, out io.Writer) *consolePrompt {
	return &consolePrompt{in: bufio.NewReader(in), out: out}
}

type promptAnswer struct {
	line string
	err  error
}

func (p *consolePrompt) RequestSignature(ctx context.Context, walletType signer.WalletType, tx map[string]interface{}) (signer.Signed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return signer.Signed{}, fmt.Errorf("encode transaction: %w", err)
	}
	fmt.Fprintf(p.out, "Sign with %s and paste the signed blob (empty line rejects):\n%s\n> ", walletType, body)

	answer := make(chan promptAnswer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		answer <- promptAnswer{line: line, err: err}
	}()

	var a promptAnswer
	select {
	case <-ctx.Done():
		return signer.Signed{}, ctx.Err()
	case a = <-answer:
	}

	blob := strings.TrimSpace(a.line)
	if blob == "" {
		if a.err != nil && a.err != io.EOF {
			return signer.Signed{}, fmt.Errorf("%w: %v", signer.ErrSignerUnavailable, a.err)
		}
		return signer.Signed{}, signer.ErrUserRejected
	}
	if _, err := hex.DecodeString(blob); err != nil {
		return signer.Signed{}, fmt.Errorf("signed blob is not hex: %w", err)
	}
	return signer.Signed{Blob: strings.ToUpper(blob)}, nil
}
