package service

const systemPrompt = "You are a senior academic content architect and experienced instructor. Follow the output format instructions exactly."

const summarizePrompt = `Transform the material below into a COMPLETE, deeply structured teaching foundation.

STRICT REQUIREMENTS:
- Do NOT shorten or compress the material.
- Preserve every concept, formula, rule and explanation.
- Organize ideas logically from foundational to advanced.
- Use simple, precise English suitable for high school level.
- Rewrite calculations step-by-step with zero skipped steps.
- Clearly define all key terms.

STRUCTURE OUTPUT USING:
1. Core Concepts
2. Definitions
3. Principles & Rules
4. Step-by-Step Methods
5. Worked Examples
6. Common Mistakes
7. Practice Thinking Prompts

TEXT:
`

const metadataPrompt = `Generate course metadata from this material.

Respond with a JSON object: {"title": string, "description": string}

REQUIREMENTS:
- Title: authoritative, clear, professional.
- Description: 4-6 sentences covering what the student will master, skills gained, practical applications and difficulty level.

MATERIAL:
`

const chaptersPrompt = `Transform the material into a COMPLETE course divided into logically progressive chapters.

Respond with a JSON object:
{"chapters": [{"chapter_number": integer, "title": string, "content": string}]}

REQUIREMENTS:
- Chapter numbers start at 1 and increase sequentially.
- Each chapter contains an introduction, definitions, concept explanation, worked examples, common mistakes and a recap.
- content MUST be an HTML string using <h2>, <h3>, <p>, <ul>/<ol>, <strong>, <div class="example"> and <div class="mistake">.
- Do not add material beyond the source.

MATERIAL:
`

const quizPrompt = `Create a conceptual quiz from this chapter.

Respond with a JSON object:
{"questions": [{"question": string, "options": [string, string, string, string], "correct_index": integer}]}

RULES:
- Exactly 3 questions.
- Exactly 4 short options per question, only one correct.
- correct_index is the 0-based index of the correct option (0-3).
- Test understanding, not memorization.

CHAPTER CONTENT:
`

const examPrompt = `Create a comprehensive final exam covering the entire course.

Respond with a JSON object:
{"questions": [{"question": string, "options": [string, string, string, string], "correct_index": integer}]}

RULES:
- Exactly 10 questions.
- Exactly 4 options per question, only one correct.
- correct_index is the 0-based index of the correct option (0-3).
- Questions 1-3 foundational, 4-7 intermediate, 8-10 advanced but fair.

MATERIAL:
`
