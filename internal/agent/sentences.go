package agent

import "strings"

// SentenceSplitter cuts streamed text into sentences so each one can be
// synthesized as soon as it is complete.
type SentenceSplitter struct {
	b strings.Builder
}

// Push appends text and returns the sentences it completed.
func (s *SentenceSplitter) Push(text string) []string {
	var out []string
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			s.b.WriteRune(r)
			out = s.cut(out)
		case '\n', '\r':
			out = s.cut(out)
		default:
			s.b.WriteRune(r)
		}
	}
	return out
}

// Flush returns the trailing partial sentence, if any.
func (s *SentenceSplitter) Flush() string {
	tail := strings.TrimSpace(s.b.String())
	s.b.Reset()
	return tail
}

func (s *SentenceSplitter) cut(out []string) []string {
	chunk := strings.TrimSpace(s.b.String())
	s.b.Reset()
	if chunk != "" {
		out = append(out, chunk)
	}
	return out
}

// SplitSentences splits a complete reply.
func SplitSentences(text string) []string {
	var s SentenceSplitter
	out := s.Push(text)
	if tail := s.Flush(); tail != "" {
		out = append(out, tail)
	}
	return out
}
