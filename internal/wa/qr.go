package wa

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

// qrSize is the rendered pairing image edge in pixels.
const qrSize = 256

// RenderQR encodes a pairing code as a base64 PNG.
func RenderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// pair drains the pairing channel, forwarding codes to the registry. A
// timeout or pairing error is reported as a transient close so the
// registry starts a fresh attempt.
func (a *Adapter) pair(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			png, err := RenderQR(item.Code)
			if err != nil {
				a.logger.Warn("render qr", zap.Error(err))
			}
			a.hooks.HandleQR(a.session.Name, a, registry.QR{
				Code:     item.Code,
				PNG:      png,
				IssuedAt: time.Now(),
			})
		case whatsmeow.QRChannelSuccess.Event:
			a.logger.Info("pairing succeeded")
			return
		case whatsmeow.QRChannelTimeout.Event:
			a.logger.Warn("pairing timed out")
			a.hooks.HandleClosed(a.session.Name, a, registry.CloseReason{Detail: "qr timeout"})
			return
		default:
			detail := item.Event
			if item.Error != nil {
				detail = item.Error.Error()
			}
			a.logger.Warn("pairing failed", zap.String("detail", detail))
			a.hooks.HandleClosed(a.session.Name, a, registry.CloseReason{Detail: detail})
			return
		}
	}
}
