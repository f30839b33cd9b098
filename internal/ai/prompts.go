package ai

const summaryPrompt = `You are an AI research analyst. Read the provided title and content and return a single JSON object summarizing the work.

Title:
%s

Content:
---
%s
---

Return exactly this JSON shape, all fields mandatory:
{
  "title": "An accurate, concise English title.",
  "what_is_new": "A paragraph explaining the core innovation.",
  "how_it_works": "An accessible explanation of the methodology.",
  "why_it_matters": "A paragraph on the potential impact.",
  "keywords": ["five", "to", "seven", "english", "keywords"]
}`

const chunkPrompt = `You are an AI research analyst. The following is segment %[2]d of %[3]d from a long document titled %[1]q. Condense this segment into a dense factual summary that preserves every technical claim, number, and result. Return JSON: {"summary": "..."}

Segment:
---
%[4]s
---`

const combinePrompt = `You are an AI research analyst. Below are ordered segment summaries of one long document titled %[1]q. Merge them into a single coherent analysis. Do not drop information that appears in only one segment.

%[2]s

Return exactly this JSON shape, all fields mandatory:
{
  "title": "An accurate, concise English title.",
  "what_is_new": "A paragraph explaining the core innovation.",
  "how_it_works": "An accessible explanation of the methodology.",
  "why_it_matters": "A paragraph on the potential impact.",
  "keywords": ["five", "to", "seven", "english", "keywords"]
}`

const rankingPrompt = `You are an AI research analyst. Score the summarized work below on four independent axes. Every score must be a number between %[1]g and %[2]g inclusive. Provide a one-to-two sentence justification per axis.

Title: %[3]s
What is new: %[4]s
How it works: %[5]s
Why it matters: %[6]s

Return exactly this JSON shape, all fields mandatory:
{
  "novelty": {"score": 0, "justification": "..."},
  "human_impact": {"score": 0, "justification": "..."},
  "field_influence": {"score": 0, "justification": "..."},
  "technical_maturity": {"score": 0, "justification": "..."},
  "overall_importance_score": 0.0
}`

const sourcererPrompt = `You are an AI research analyst curating data sources. Evaluate the given URL and decide whether it points to a high-quality, English-language blog or news site that regularly publishes technical content about AI or machine learning breakthroughs.

Do NOT approve: corporate product marketing pages, general tech news sites that only occasionally mention AI, individual researcher homepages, social media profiles, or forums.

Strongly approve: dedicated research blogs from major AI labs, high-quality independent blogs focused on explaining AI research, and the AI-specific section of a major tech publication.

URL to analyze: %q

Return exactly this JSON shape:
{
  "is_high_quality_source": false,
  "reasoning": "A concise one-sentence justification.",
  "source_name": "The proper name of the publication.",
  "source_type": "one of: blog, news, other"
}`
