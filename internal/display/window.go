package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RoboEye/internal/logger"
	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
)

// ErrDisplayUnavailable means there is no X display to open a window on
var ErrDisplayUnavailable = errors.New("no display environment available")

// Renderer shows frames somewhere local
type Renderer interface {
	Show(img *image.RGBA) error
	// Done is closed when the user closes the window
	Done() <-chan struct{}
	Close() error
}

// Window is an X11 preview window
type Window struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	win    xproto.Window
	gc     xproto.Gcontext
	width  int
	height int

	bitsPerPixel uint8
	scanlinePad  uint8

	deleteAtom xproto.Atom
	done       chan struct{}
	closeOnce  sync.Once
}

// OpenWindow creates and maps a width x height window titled name
func OpenWindow(name string, width, height int) (*Window, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, ErrDisplayUnavailable
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisplayUnavailable, err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	w := &Window{
		conn:   conn,
		screen: screen,
		width:  width,
		height: height,
		done:   make(chan struct{}),
	}

	if err := w.create(name); err != nil {
		conn.Close()
		return nil, err
	}

	go w.watchEvents()

	logger.WithComponent("display").Info().
		Str("name", name).
		Int("width", width).
		Int("height", height).
		Uint32("window_id", uint32(w.win)).
		Msg("Preview window created")
	return w, nil
}

func (w *Window) create(name string) error {
	for _, format := range xproto.Setup(w.conn).PixmapFormats {
		if format.Depth == w.screen.RootDepth {
			w.bitsPerPixel = format.BitsPerPixel
			w.scanlinePad = format.ScanlinePad
			break
		}
	}
	if w.bitsPerPixel != 24 && w.bitsPerPixel != 32 {
		return fmt.Errorf("unsupported pixmap format: depth %d, %d bpp", w.screen.RootDepth, w.bitsPerPixel)
	}

	id, err := xproto.NewWindowId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	w.win = id

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		w.conn,
		w.screen.RootDepth,
		w.win,
		w.screen.Root,
		0, 0,
		uint16(w.width), uint16(w.height),
		0,
		xproto.WindowClassInputOutput,
		w.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := w.setProperty("_NET_WM_NAME", "UTF8_STRING", name); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.setProperty("WM_CLASS", "", "roboeye\x00RoboEye\x00"); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window class")
	}
	if err := w.watchDelete(); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to register WM_DELETE_WINDOW")
	}

	if err := xproto.MapWindowChecked(w.conn, w.win).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(w.conn, gc, xproto.Drawable(w.win), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	w.gc = gc
	w.conn.Sync()
	return nil
}

// setProperty sets a string property. An empty typ means STRING.
func (w *Window) setProperty(name, typ, value string) error {
	prop, err := w.atom(name)
	if err != nil {
		return err
	}
	var typeAtom xproto.Atom = xproto.AtomString
	if typ != "" {
		if typeAtom, err = w.atom(typ); err != nil {
			return err
		}
	}
	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.win,
		prop,
		typeAtom,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

// watchDelete asks the window manager to send a message instead of killing
// the connection when the user closes the window
func (w *Window) watchDelete() error {
	protocols, err := w.atom("WM_PROTOCOLS")
	if err != nil {
		return err
	}
	w.deleteAtom, err = w.atom("WM_DELETE_WINDOW")
	if err != nil {
		return err
	}
	data := make([]byte, 4)
	xgb.Put32(data, uint32(w.deleteAtom))
	return xproto.ChangePropertyChecked(
		w.conn, xproto.PropModeReplace, w.win,
		protocols, xproto.AtomAtom, 32, 1, data,
	).Check()
}

func (w *Window) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(w.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

func (w *Window) watchEvents() {
	defer w.markDone()
	for {
		ev, err := w.conn.WaitForEvent()
		if ev == nil && err == nil {
			// connection closed
			return
		}
		switch e := ev.(type) {
		case xproto.DestroyNotifyEvent:
			return
		case xproto.ClientMessageEvent:
			if xproto.Atom(e.Data.Data32[0]) == w.deleteAtom {
				return
			}
		}
	}
}

func (w *Window) markDone() {
	w.closeOnce.Do(func() { close(w.done) })
}

// Done is closed once the window is gone
func (w *Window) Done() <-chan struct{} {
	return w.done
}

// Show draws img into the window, scaled to fit and centered
func (w *Window) Show(img *image.RGBA) error {
	select {
	case <-w.done:
		return errors.New("window closed")
	default:
	}

	data := packBGRx(fitFrame(img, w.width, w.height), int(w.bitsPerPixel)/8, int(w.scanlinePad)/8)
	stride := len(data) / w.height
	maxLen := int(xproto.Setup(w.conn).MaximumRequestLength)

	for _, s := range imageStrips(stride, w.height, maxLen) {
		err := xproto.PutImageChecked(
			w.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(w.win),
			w.gc,
			uint16(w.width),
			uint16(s.rows),
			0, int16(s.y),
			0,
			w.screen.RootDepth,
			data[s.y*stride:(s.y+s.rows)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// putImageHeader is the fixed size of a PutImage request in bytes
const putImageHeader = 24

type strip struct {
	y, rows int
}

// imageStrips splits height rows of stride bytes into horizontal strips
// whose PutImage requests fit in maxRequestLength 4-byte units
func imageStrips(stride, height, maxRequestLength int) []strip {
	if stride <= 0 || height <= 0 {
		return nil
	}
	perStrip := (maxRequestLength*4 - putImageHeader) / stride
	if perStrip < 1 {
		perStrip = 1
	}

	strips := make([]strip, 0, (height+perStrip-1)/perStrip)
	for y := 0; y < height; y += perStrip {
		rows := perStrip
		if y+rows > height {
			rows = height - y
		}
		strips = append(strips, strip{y: y, rows: rows})
	}
	return strips
}

// Close destroys the window and drops the connection
func (w *Window) Close() error {
	var err error
	if w.gc != 0 {
		err = multierr.Append(err, xproto.FreeGCChecked(w.conn, w.gc).Check())
	}
	if w.win != 0 {
		err = multierr.Append(err, xproto.DestroyWindowChecked(w.conn, w.win).Check())
	}
	w.conn.Close()
	w.markDone()
	logger.WithComponent("display").Info().Msg("Preview window closed")
	return err
}

// fitFrame scales img to fit width x height keeping aspect ratio, centered
// on black
func fitFrame(img *image.RGBA, width, height int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	scaled := imaging.Fit(img, width, height, imaging.NearestNeighbor)
	bg := imaging.New(width, height, color.Black)
	return toRGBA(imaging.PasteCenter(bg, scaled))
}

func toRGBA(img *image.NRGBA) *image.RGBA {
	// NRGBA with opaque pixels has the same layout as RGBA
	return &image.RGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect}
}

// packBGRx converts RGBA to the X11 ZPixmap byte order with each scanline
// padded to padBytes
func packBGRx(img *image.RGBA, bytesPerPixel, padBytes int) []byte {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if padBytes <= 0 {
		padBytes = 1
	}
	unpadded := width * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			s := x * 4
			d := x * bytesPerPixel
			dst[d] = src[s+2]
			dst[d+1] = src[s+1]
			dst[d+2] = src[s]
		}
	}
	return data
}
