// Package vga simulates the 80x25 VGA text-mode console described in
// spec.md §4.8/§6, in user space: a Cell grid standing in for video
// memory, a cursor, and a Write path that understands ANSI SGR escapes
// and the local inline tag syntax, grounded on
// _examples/original_source/drv/vga.c's kprint_colorized.
package vga

const (
	Cols = 80
	Rows = 25

	defaultAttr = 0x07 // GRAY_ON_BLACK
)

// Cell is one character position: a glyph plus its VGA color attribute
// byte (low nibble foreground, high nibble background).
type Cell struct {
	Ch   byte
	Attr uint8
}

// Console is the in-memory stand-in for VIDEO_ADDRESS: a fixed grid,
// a cursor position, and the current SGR color.
type Console struct {
	Grid       [Rows][Cols]Cell
	CursorX    int
	CursorY    int
	color      uint8
}

// NewConsole returns a cleared console with the default gray-on-black
// attribute.
func NewConsole() *Console {
	c := &Console{color: defaultAttr}
	c.Clear()
	return c
}

// Clear fills the grid with blanks at the current color and homes the
// cursor, mirroring kclear.
func (c *Console) Clear() {
	for y := 0; y < Rows; y++ {
		for x := 0; x < Cols; x++ {
			c.Grid[y][x] = Cell{Ch: ' ', Attr: c.color}
		}
	}
	c.CursorX, c.CursorY = 0, 0
}

// Write implements io.Writer by driving every byte of p through the
// colorized printer, per spec.md §6's accepted control-code list.
func (c *Console) Write(p []byte) (int, error) {
	s := string(p)
	i := 0
	for i < len(s) {
		if s[i] == 0x1b {
			if next, ok := c.applySGR(s[i:]); ok {
				i += next
				continue
			}
		}
		if i+6 <= len(s) && s[i] == '<' && s[i+1] == '(' && s[i+4] == ')' && s[i+5] == '>' {
			c.color = parseColorTag(s[i+2], s[i+3])
			i += 6
			continue
		}
		c.putch(s[i])
		i++
	}
	return len(p), nil
}

func (c *Console) putch(ch byte) {
	switch ch {
	case '\n':
		c.CursorX = 0
		if c.CursorY == Rows-1 {
			c.scroll()
		} else {
			c.CursorY++
		}
	case '\r':
		c.CursorX = 0
	case '\b':
		if c.CursorX > 0 {
			c.CursorX--
		}
		c.Grid[c.CursorY][c.CursorX] = Cell{Ch: ' ', Attr: c.color}
	case '\t':
		spaces := 8 - (c.CursorX % 8)
		for i := 0; i < spaces; i++ {
			c.advance(' ')
		}
	default:
		c.advance(ch)
	}
}

func (c *Console) advance(ch byte) {
	c.Grid[c.CursorY][c.CursorX] = Cell{Ch: ch, Attr: c.color}
	c.CursorX++
	if c.CursorX >= Cols {
		c.CursorX = 0
		if c.CursorY == Rows-1 {
			c.scroll()
		} else {
			c.CursorY++
		}
	}
}

func (c *Console) scroll() {
	for y := 1; y < Rows; y++ {
		c.Grid[y-1] = c.Grid[y]
	}
	for x := 0; x < Cols; x++ {
		c.Grid[Rows-1][x] = Cell{Ch: ' ', Attr: c.color}
	}
}

// Text renders the visible grid as newline-joined rows with trailing
// blanks trimmed, for test assertions and diagnostics.
func (c *Console) Text() string {
	out := make([]byte, 0, Rows*(Cols+1))
	for y := 0; y < Rows; y++ {
		end := Cols
		for end > 0 && c.Grid[y][end-1].Ch == ' ' {
			end--
		}
		for x := 0; x < end; x++ {
			out = append(out, c.Grid[y][x].Ch)
		}
		out = append(out, '\n')
	}
	return string(out)
}

// applySGR parses one `\x1b[<params>m` sequence starting at s[0],
// returning the length consumed and whether it was recognized. An
// unterminated sequence is treated literally, matching ansi_parse_sgr.
func (c *Console) applySGR(s string) (int, bool) {
	if len(s) < 2 || s[1] != '[' {
		return 0, false
	}
	i := 2
	var codes []int
	cur := 0
	have := false
	for {
		if i >= len(s) {
			return 0, false
		}
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			cur = cur*10 + int(ch-'0')
			have = true
			i++
		case ch == ';':
			if have {
				codes = append(codes, cur)
			}
			cur, have = 0, false
			i++
		case ch == 'm':
			if have {
				codes = append(codes, cur)
			}
			i++
			for _, code := range codes {
				c.color = applySGRCode(c.color, code)
			}
			return i, true
		default:
			return 0, false
		}
	}
}

// applySGRCode maps one SGR parameter onto the VGA attribute byte, per
// original_source/drv/vga.c's ansi_apply_sgr palette table.
func applySGRCode(cur uint8, code int) uint8 {
	fg := cur & 0x0F
	bg := (cur >> 4) & 0x0F

	switch code {
	case 0:
		return defaultAttr
	case 1:
		fg |= 0x08
		return (bg << 4) | (fg & 0x0F)
	case 22:
		fg &= 0x07
		return (bg << 4) | fg
	}

	ansiToVGA := [8]uint8{0, 4, 2, 6, 1, 5, 3, 7}
	switch {
	case code >= 30 && code <= 37:
		fg = ansiToVGA[code-30]
		return (bg << 4) | (fg & 0x0F)
	case code >= 90 && code <= 97:
		fg = ansiToVGA[code-90] | 0x08
		return (bg << 4) | (fg & 0x0F)
	case code >= 40 && code <= 47:
		bg = ansiToVGA[code-40]
		return ((bg & 0x0F) << 4) | (fg & 0x0F)
	case code >= 100 && code <= 107:
		bg = ansiToVGA[code-100] | 0x08
		return ((bg & 0x0F) << 4) | (fg & 0x0F)
	}
	return cur
}

func hexNibble(b byte) uint8 {
	switch {
	case b >= '0' && b <= '9':
		return uint8(b - '0')
	case b >= 'a' && b <= 'f':
		return uint8(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return uint8(b-'A') + 10
	default:
		return 0
	}
}

// parseColorTag decodes the "<(BF)>" inline tag, B the background
// nibble and F the foreground nibble.
func parseColorTag(bg, fg byte) uint8 {
	return (hexNibble(bg) << 4) | hexNibble(fg)
}
