package analysis

import "github.com/lenslab/promptlens/internal/domain"

// Instruction templates. Each asks the model to break the image down across
// eight visual dimensions, rewrite any sensitive content into neutral
// compliant phrasing, and emit only the final rewritten prompt with no
// intermediate reasoning.

const instructionEN = `Analyze this image and write a single descriptive prompt that could be used
to generate a similar image. Work through these eight dimensions: main
subject, composition and framing, lighting, color palette, artistic style and
medium, mood and atmosphere, fine detail and texture, and camera perspective.
If anything in the image is suggestive, violent, or otherwise sensitive,
rewrite that part using neutral, policy-compliant phrasing instead of
describing it literally. Output only the final rewritten prompt, with no
headings, no lists, and no reasoning.`

const instructionZH = `请分析这张图片，并写出一段可用于生成相似图片的描述性提示词。请依次考虑以下八个维度：
主体内容、构图与取景、光线、色彩搭配、艺术风格与媒介、氛围与情绪、细节与质感、视角与镜头。
如果图片中包含暗示性、暴力或其他敏感内容，请将相应部分改写为中性、合规的表述，不要直接描述。
只输出最终改写后的提示词，不要输出标题、列表或任何推理过程。`

const conciseClauseEN = `

Keep the prompt concise: a few sentences at most.`

const conciseClauseZH = `

请保持提示词简洁，不超过几句话。`

// Instruction returns the fixed template for the given language and output
// format. Unknown languages fall back to Chinese, the default locale.
func Instruction(lang domain.Language, format domain.OutputFormat) string {
	switch lang {
	case domain.LanguageEN:
		if format == domain.OutputConcise {
			return instructionEN + conciseClauseEN
		}
		return instructionEN
	default:
		if format == domain.OutputConcise {
			return instructionZH + conciseClauseZH
		}
		return instructionZH
	}
}

// Resolve returns custom when it is non-empty, else the template for the
// given language and format.
func Resolve(custom string, lang domain.Language, format domain.OutputFormat) string {
	if custom != "" {
		return custom
	}
	return Instruction(lang, format)
}
