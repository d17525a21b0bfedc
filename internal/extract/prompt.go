package extract

import (
	"strings"

	"github.com/dvloznov/budgetflow/internal/domain"
)

// buildPrompt constructs the extraction instructions, listing the categories
// the model may choose from.
func buildPrompt(set domain.CategorySet) string {
	var b strings.Builder

	b.WriteString("You are a financial transaction parser for bank and credit card statements.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Extract ALL transactions from ALL pages of the attached statement.\n")
	b.WriteString("- Keep descriptions exactly as printed, in their original language.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n")

	b.WriteString("Each transaction must have these fields:\n")
	b.WriteString("- \"date\": string, format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"description\": string\n")
	b.WriteString("- \"amount\": number (negative for expenses, positive for income)\n")
	b.WriteString("- \"category\": string (one of the categories below)\n\n")

	b.WriteString("Use ONLY the following categories (exact names):\n")
	for _, name := range set.Names() {
		b.WriteString("  - " + name + "\n")
	}
	b.WriteString("\n")

	b.WriteString("Rules:\n")
	b.WriteString("- If the statement has separate debit / credit columns, convert to a single signed \"amount\".\n")
	b.WriteString("- If you are unsure of the category, use \"" + set.Fallback() + "\".\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n\n")

	b.WriteString("Return a JSON object of the form:\n")
	b.WriteString("{\"transactions\": [{\"date\": \"YYYY-MM-DD\", \"description\": \"...\", \"amount\": -123.45, \"category\": \"...\"}]}\n")

	return b.String()
}
