package main

import "strings"

// Chunk is a bounded segment of a longer text. Sep is the separator that
// preceded the chunk in the original text, so joining Sep+Text for every
// chunk reproduces the input byte-for-byte.
type Chunk struct {
	Text string
	Sep  string
}

// ChunkText splits text into segments no longer than maxChars. Paragraphs
// (blank-line separated) are the preferred boundary; a paragraph that still
// exceeds the limit is split on sentence boundaries. A single sentence with
// no boundary is kept whole even when oversized: text is never dropped.
// Empty input yields one empty chunk.
func ChunkText(text string, maxChars int) []Chunk {
	if text == "" {
		return []Chunk{{}}
	}

	var chunks []Chunk
	for _, part := range splitKeepSep(text, "\n\n") {
		if len(part.text) <= maxChars {
			chunks = appendChunk(chunks, part.sep, part.text)
			continue
		}
		for _, sent := range splitSentences(part.text) {
			chunks = appendChunk(chunks, part.sep, sent)
			part.sep = "" // only the first piece carries the paragraph separator
		}
	}
	return packChunks(chunks, maxChars)
}

// ReassembleChunks is the inverse of ChunkText.
func ReassembleChunks(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Sep)
		b.WriteString(c.Text)
	}
	return b.String()
}

type sepPart struct {
	text string
	sep  string
}

// splitKeepSep splits on sep while recording, for each piece, the separator
// run that preceded it. Consecutive separators collapse into the preceding
// piece's recorded run so reassembly stays exact.
func splitKeepSep(text, sep string) []sepPart {
	var parts []sepPart
	rest := text
	pre := ""
	for {
		i := strings.Index(rest, sep)
		if i < 0 {
			parts = append(parts, sepPart{text: rest, sep: pre})
			return parts
		}
		parts = append(parts, sepPart{text: rest[:i], sep: pre})
		pre = sep
		rest = rest[i+len(sep):]
		// Fold runs of separators into one recorded prefix.
		for strings.HasPrefix(rest, sep) {
			pre += sep
			rest = rest[len(sep):]
		}
	}
}

// splitSentences splits a paragraph after sentence-ending punctuation
// followed by whitespace. The trailing whitespace stays attached to the
// sentence it follows so concatenation is lossless.
func splitSentences(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '.', '!', '?':
			// Consume any run of closing punctuation.
			j := i + 1
			for j < len(p) && (p[j] == '.' || p[j] == '!' || p[j] == '?' || p[j] == '"' || p[j] == '\'' || p[j] == ')') {
				j++
			}
			if j < len(p) && (p[j] == ' ' || p[j] == '\n' || p[j] == '\t') {
				for j < len(p) && (p[j] == ' ' || p[j] == '\n' || p[j] == '\t') {
					j++
				}
				out = append(out, p[start:j])
				start = j
				i = j - 1
			}
		}
	}
	if start < len(p) {
		out = append(out, p[start:])
	}
	if len(out) == 0 {
		out = []string{p}
	}
	return out
}

func appendChunk(chunks []Chunk, sep, text string) []Chunk {
	return append(chunks, Chunk{Text: text, Sep: sep})
}

// packChunks greedily recombines adjacent pieces that share no paragraph
// boundary overflow, keeping each packed chunk within maxChars where
// possible. Oversized single pieces pass through untouched.
func packChunks(pieces []Chunk, maxChars int) []Chunk {
	var out []Chunk
	for _, p := range pieces {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		last := &out[len(out)-1]
		joined := len(last.Text) + len(p.Sep) + len(p.Text)
		if joined <= maxChars {
			last.Text += p.Sep + p.Text
			continue
		}
		out = append(out, p)
	}
	// The first chunk never carries a leading separator.
	if len(out) > 0 {
		out[0].Text = out[0].Sep + out[0].Text
		out[0].Sep = ""
	}
	return out
}
