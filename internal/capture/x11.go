package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
)

// X11Driver uses the top left corner of the X screen as a camera. Handy for
// exercising the pipeline on a desktop without camera hardware.
type X11Driver struct{}

// Name returns the driver name
func (d *X11Driver) Name() string {
	return config.DriverX11
}

// Open connects to the X server named by cfg.Device (empty means $DISPLAY)
func (d *X11Driver) Open(ctx context.Context, cfg config.CameraConfig) (Device, error) {
	var display string
	if cfg.Device != "" && cfg.Device[0] == ':' {
		display = cfg.Device
	}
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	if int(screen.WidthInPixels) < cfg.Width || int(screen.HeightInPixels) < cfg.Height {
		conn.Close()
		return nil, fmt.Errorf("screen %dx%d smaller than %dx%d",
			screen.WidthInPixels, screen.HeightInPixels, cfg.Width, cfg.Height)
	}
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return nil, fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	rate := cfg.FrameRate
	if rate <= 0 {
		rate = 30
	}

	logger.WithComponent("x11-camera").Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("fps", rate).
		Msg("Capturing X screen")

	return &x11Device{
		conn:   conn,
		root:   screen.Root,
		cfg:    cfg,
		ticker: time.NewTicker(time.Second / time.Duration(rate)),
	}, nil
}

type x11Device struct {
	conn   *xgb.Conn
	root   xproto.Window
	cfg    config.CameraConfig
	ticker *time.Ticker
}

func (x *x11Device) Capture(ctx context.Context) (*image.RGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.ticker.C:
	}

	reply, err := xproto.GetImage(
		x.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(x.root),
		0, 0,
		uint16(x.cfg.Width), uint16(x.cfg.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return Flip(convertBGRx(reply.Data, x.cfg.Width, x.cfg.Height), x.cfg.HFlip, x.cfg.VFlip), nil
}

func (x *x11Device) Close() error {
	x.ticker.Stop()
	x.conn.Close()
	logger.WithComponent("x11-camera").Info().Msg("Screen capture stopped")
	return nil
}

// convertBGRx converts 32bpp ZPixmap data to RGBA
func convertBGRx(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}
