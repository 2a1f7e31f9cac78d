package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize 是入库时使用的分块上限（字符数）。
const DefaultChunkSize = 500

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// 段落分隔：一个或多个空行，空行中可以只有空格或制表符。
var paragraphBreak = regexp.MustCompile(`\n(?:[ \t]*\n)+`)

// NormalizeLineEndings 将 \r\n 与 \r 统一为 \n。
func NormalizeLineEndings(s string) string {
	return lineEndings.Replace(s)
}

// Chunk 按空行把文本切成段落，再把段落累积成不超过 maxChunkSize 个字符的分块。
// 单个段落超过上限时按 maxChunkSize 硬切，切片原样输出，拼接后等于原段落。
// 长度按 rune 计算。只含空白的段落被丢弃，因此累积出的分块总有非空白内容。
// maxChunkSize <= 0 时返回 nil。
func Chunk(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 || text == "" {
		return nil
	}

	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if s := buf.String(); strings.TrimSpace(s) != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, para := range paragraphBreak.Split(NormalizeLineEndings(text), -1) {
		if strings.TrimSpace(para) == "" {
			continue
		}
		paraLen := utf8.RuneCountInString(para)

		if bufLen+paraLen < maxChunkSize {
			if bufLen > 0 {
				buf.WriteByte('\n')
				bufLen++
			}
			buf.WriteString(para)
			bufLen += paraLen
			continue
		}

		flush()
		if paraLen > maxChunkSize {
			chunks = append(chunks, hardSlice(para, maxChunkSize)...)
			continue
		}
		buf.WriteString(para)
		bufLen = paraLen
	}
	flush()
	return chunks
}

// hardSlice 将 s 切成每段至多 size 个 rune 的片段。
func hardSlice(s string, size int) []string {
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}
