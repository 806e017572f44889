package oracle

import (
	"strings"
	"unicode/utf16"
)

type scanState int

const (
	scanObjectStart scanState = iota
	scanKeyStart
	scanKey
	scanColon
	scanValueStart
	scanString
	scanLiteral
	scanNested
	scanNext
	scanDone
)

// decisionScanner is a resumable single-pass scanner over streamed
// decision JSON. It tracks the top-level keys as their values complete
// and, once the prefix proves the decision final (is_final true with
// an empty delegate_to), exposes the message string's unescaped
// content incrementally. Because the schema orders message last, every
// byte it exposes is user-safe; anything else stays suppressed.
type decisionScanner struct {
	state scanState

	key    strings.Builder
	keyEsc bool

	val       strings.Builder
	esc       bool
	uniLeft   int
	uniVal    rune
	pendingHi rune

	// nested value skipping
	depth int
	inStr bool

	isFinalSeen  bool
	isFinal      bool
	delegateSeen bool
	delegate     string
	msgSeen      bool

	streaming bool

	buf strings.Builder
	out strings.Builder
}

func newDecisionScanner() *decisionScanner {
	return &decisionScanner{}
}

// feed consumes the next fragment of model output and returns any
// newly available user-safe message text.
func (s *decisionScanner) feed(text string) string {
	s.buf.WriteString(text)
	s.out.Reset()
	for i := 0; i < len(text); i++ {
		s.step(text[i])
	}
	return s.out.String()
}

// raw returns everything fed so far.
func (s *decisionScanner) raw() string {
	return s.buf.String()
}

func (s *decisionScanner) eligible() bool {
	return s.isFinalSeen && s.isFinal && s.delegateSeen && s.delegate == ""
}

func (s *decisionScanner) step(b byte) {
	switch s.state {
	case scanObjectStart:
		switch {
		case isJSONSpace(b):
		case b == '{':
			s.state = scanKeyStart
		default:
			// Not an object; nothing can be streamed safely.
			s.state = scanDone
		}

	case scanKeyStart:
		switch {
		case isJSONSpace(b):
		case b == '"':
			s.key.Reset()
			s.state = scanKey
		case b == '}':
			s.state = scanDone
		}

	case scanKey:
		switch {
		case s.keyEsc:
			s.key.WriteByte(b)
			s.keyEsc = false
		case b == '\\':
			s.keyEsc = true
		case b == '"':
			s.state = scanColon
		default:
			s.key.WriteByte(b)
		}

	case scanColon:
		if b == ':' {
			s.state = scanValueStart
		}

	case scanValueStart:
		switch {
		case isJSONSpace(b):
		case b == '"':
			s.val.Reset()
			s.esc = false
			s.uniLeft = 0
			s.pendingHi = 0
			s.streaming = s.key.String() == "message" && !s.msgSeen && s.eligible()
			s.state = scanString
		case b == '{' || b == '[':
			s.depth = 1
			s.inStr = false
			s.esc = false
			s.state = scanNested
		default:
			s.val.Reset()
			s.val.WriteByte(b)
			s.state = scanLiteral
		}

	case scanString:
		s.stepString(b)

	case scanLiteral:
		switch {
		case b == ',':
			s.endValue(false)
			s.state = scanKeyStart
		case b == '}':
			s.endValue(false)
			s.state = scanDone
		case isJSONSpace(b):
			s.endValue(false)
			s.state = scanNext
		default:
			s.val.WriteByte(b)
		}

	case scanNested:
		s.stepNested(b)

	case scanNext:
		switch {
		case isJSONSpace(b):
		case b == ',':
			s.state = scanKeyStart
		case b == '}':
			s.state = scanDone
		}

	case scanDone:
	}
}

func (s *decisionScanner) stepString(b byte) {
	if s.uniLeft > 0 {
		v := hexVal(b)
		if v >= 0 {
			s.uniVal = s.uniVal<<4 | rune(v)
			s.uniLeft--
			if s.uniLeft == 0 {
				s.finishUnicode()
			}
			return
		}
		// Malformed escape; note the loss and resume with this byte.
		s.uniLeft = 0
		s.uniVal = 0
		s.writeRune('�')
	}

	if s.esc {
		s.esc = false
		switch b {
		case '"':
			s.writeByte('"')
		case '\\':
			s.writeByte('\\')
		case '/':
			s.writeByte('/')
		case 'b':
			s.writeByte('\b')
		case 'f':
			s.writeByte('\f')
		case 'n':
			s.writeByte('\n')
		case 'r':
			s.writeByte('\r')
		case 't':
			s.writeByte('\t')
		case 'u':
			s.uniLeft = 4
			s.uniVal = 0
		default:
			s.writeByte(b)
		}
		return
	}

	switch b {
	case '\\':
		s.esc = true
	case '"':
		s.flushPendingSurrogate()
		s.endValue(true)
		s.streaming = false
		s.state = scanNext
	default:
		s.writeByte(b)
	}
}

func (s *decisionScanner) stepNested(b byte) {
	if s.inStr {
		switch {
		case s.esc:
			s.esc = false
		case b == '\\':
			s.esc = true
		case b == '"':
			s.inStr = false
		}
		return
	}
	switch b {
	case '"':
		s.inStr = true
	case '{', '[':
		s.depth++
	case '}', ']':
		s.depth--
		if s.depth == 0 {
			s.state = scanNext
		}
	}
}

func (s *decisionScanner) endValue(isString bool) {
	value := s.val.String()
	switch s.key.String() {
	case "is_final":
		s.isFinalSeen = true
		s.isFinal = value == "true"
	case "delegate_to":
		s.delegateSeen = true
		if !isString && value == "null" {
			value = ""
		}
		s.delegate = value
	case "message":
		if isString {
			s.msgSeen = true
		}
	}
	s.val.Reset()
}

func (s *decisionScanner) finishUnicode() {
	r := s.uniVal
	s.uniVal = 0
	if utf16.IsSurrogate(r) {
		if s.pendingHi != 0 {
			combined := utf16.DecodeRune(s.pendingHi, r)
			s.pendingHi = 0
			s.val.WriteRune(combined)
			if s.streaming {
				s.out.WriteRune(combined)
			}
			return
		}
		s.pendingHi = r
		return
	}
	s.writeRune(r)
}

func (s *decisionScanner) flushPendingSurrogate() {
	if s.pendingHi != 0 {
		s.pendingHi = 0
		s.val.WriteRune('�')
		if s.streaming {
			s.out.WriteRune('�')
		}
	}
}

func (s *decisionScanner) writeByte(b byte) {
	s.flushPendingSurrogate()
	s.val.WriteByte(b)
	if s.streaming {
		s.out.WriteByte(b)
	}
}

func (s *decisionScanner) writeRune(r rune) {
	s.flushPendingSurrogate()
	s.val.WriteRune(r)
	if s.streaming {
		s.out.WriteRune(r)
	}
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	default:
		return -1
	}
}
