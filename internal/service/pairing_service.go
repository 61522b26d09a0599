package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const uploadTimeout = 30 * time.Second

type PairingOptions struct {
	OutputDir string
	ImageSize int
	Terminal  bool
	Upload    bool
}

// PairingArtifact is the pairing code currently waiting to be scanned.
type PairingArtifact struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issuedAt"`
	DataURL  string    `json:"dataUrl"`
	ImageURL string    `json:"imageUrl,omitempty"`
	png      []byte
}

func (a *PairingArtifact) PNG() []byte { return a.png }

// PairingService renders pairing codes for a human to scan: as files in the
// output directory, on the terminal, and through the status API. It
// subscribes to the session as an observer.
type PairingService struct {
	opts  PairingOptions
	store ArtifactStore
	out   io.Writer

	mu      sync.RWMutex
	current *PairingArtifact
}

// NewPairingService: store may be nil when uploads are disabled; out
// receives the terminal rendering.
func NewPairingService(opts PairingOptions, store ArtifactStore, out io.Writer) *PairingService {
	if opts.ImageSize <= 0 {
		opts.ImageSize = 512
	}
	return &PairingService{opts: opts, store: store, out: out}
}

func (s *PairingService) OnPairingCode(code string) {
	artifact, err := s.render(code)
	if err != nil {
		logger.Log.Error("生成配对二维码失败", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.current = artifact
	s.mu.Unlock()

	logger.Log.Info("Pairing code ready, scan it with WhatsApp > Linked Devices",
		zap.String("dir", s.opts.OutputDir), zap.String("png", util.PairingPNGFile))
}

func (s *PairingService) OnStateChange(from, to model.SessionState) {
	if to != model.StateOpen && to != model.StateDisconnected {
		return
	}
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev == nil {
		return
	}
	if to == model.StateOpen {
		logger.Log.Info("配对成功")
	}
	// 已上传的二维码扫过即作废
	if prev.ImageURL != "" && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		if err := s.store.Delete(ctx, util.PairingPNGFile); err != nil {
			logger.Log.Warn("Delete uploaded pairing QR failed", zap.Error(err))
		}
	}
}

// Current returns the pending code, or util.ErrNoPairingCode.
func (s *PairingService) Current() (*PairingArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, util.ErrNoPairingCode
	}
	return s.current, nil
}

func (s *PairingService) render(code string) (*PairingArtifact, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, s.opts.ImageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	artifact := &PairingArtifact{
		Code:     code,
		IssuedAt: time.Now(),
		DataURL:  "data:" + util.MimePNG + ";base64," + base64.StdEncoding.EncodeToString(png),
		png:      png,
	}

	files := []struct {
		name string
		data []byte
	}{
		{util.PairingURLFile, []byte(code)},
		{util.PairingPNGFile, png},
		{util.PairingDataURLFile, []byte(artifact.DataURL)},
	}
	for _, f := range files {
		if err := util.WriteFileAtomic(filepath.Join(s.opts.OutputDir, f.name), f.data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	if s.opts.Terminal && s.out != nil {
		fmt.Fprintln(s.out, "Scan this QR code with WhatsApp (Settings > Linked Devices):")
		qrterminal.GenerateHalfBlock(code, qrterminal.M, s.out)
	}

	if s.opts.Upload && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		url, err := s.store.Put(ctx, util.PairingPNGFile, png, util.MimePNG)
		if err != nil {
			// 上传失败不影响本地扫码
			logger.Log.Warn("Upload pairing QR failed", zap.Error(err))
		} else {
			artifact.ImageURL = url
		}
	}
	return artifact, nil
}
