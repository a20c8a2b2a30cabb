package analyzer

import "fmt"

// systemPrompt pins the backend to a neutral, reproducible evaluation role.
const systemPrompt = "You are a documentation analysis agent. " +
	"You evaluate the user-importance of a help page neutrally and reproducibly. " +
	"You must NEVER invent information absent from the text."

const userPromptTemplate = `You are a Product Manager.

Your mission:
Evaluate the USER IMPORTANCE of this documentation page.

This is NOT a writing-quality grade.

What is measured:
- How many users will hit this problem
- How much it blocks use of the service
- Business / support impact
- Urgency

Expected score:
0 = near useless / rarely consulted
20 = minor
50 = useful but secondary
80 = very frequent or critical
100 = essential / blocks most users

IMPORTANT:
- Use the whole 0-100 scale
- Be highly discriminating
- Avoid repetitive middling scores
- Scores must vary strongly

Answer STRICTLY as JSON:
{
  "summary": "...",
  "strengths": "...",
  "weaknesses": "...",
  "score": integer
}

Title: %s

Content:
%s`

// buildUserPrompt renders the scoring instruction for one document.
func buildUserPrompt(title, content string) string {
	return fmt.Sprintf(userPromptTemplate, title, content)
}
