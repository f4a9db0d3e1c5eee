package device

import (
	"log/slog"
	"sync"
)

// PostCodePort is where firmware and test guests report progress.
const PostCodePort = 0x80

// PostCodeDevice records every byte written to port 0x80.
type PostCodeDevice struct {
	Log *slog.Logger

	mu    sync.Mutex
	codes []byte
}

func (p *PostCodeDevice) Read(port uint64, data []byte) error {
	clear(data)

	return nil
}

func (p *PostCodeDevice) Write(port uint64, data []byte) error {
	if len(data) != 1 {
		return errDataLenInvalid
	}

	p.mu.Lock()
	p.codes = append(p.codes, data[0])
	p.mu.Unlock()

	if p.Log != nil {
		p.Log.Debug("post code", "code", data[0])
	}

	return nil
}

// Codes returns the bytes written so far.
func (p *PostCodeDevice) Codes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.codes...)
}

func (p *PostCodeDevice) IOPort() uint64 {
	return PostCodePort
}

func (p *PostCodeDevice) Size() uint64 {
	return 0x1
}
