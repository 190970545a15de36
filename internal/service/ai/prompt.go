package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a legal analyst. You read contracts and answer only with a JSON object, no prose and no markdown."

var fieldDescriptions = map[string]string{
	"parties":            "names and qualification of every party",
	"monetary_values":    "prices, fees and payment amounts with their conditions",
	"main_obligations":   "the main obligations of each party",
	"contract_object":    "what the contract is about",
	"term":               "duration, validity and key dates",
	"termination_clause": "how and when the contract can be terminated",
	"jurisdiction":       "the chosen forum or jurisdiction",
	"price_adjustment":   "index or rule used to adjust prices",
	"guarantees":         "collateral, deposits or guarantees",
	"penalties":          "fines and penalties for breach",
	"confidentiality":    "confidentiality obligations",
	"renewal":            "renewal conditions",
}

// buildPrompt interpolates the contract text into the extraction instructions.
func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Extract the following information from the contract below.\n")
	b.WriteString("Return a JSON object with exactly two keys, \"" + MandatoryGroup + "\" and \"" + CrucialGroup + "\".\n")
	writeGroup(&b, MandatoryGroup, MandatoryFields)
	writeGroup(&b, CrucialGroup, CrucialFields)
	fmt.Fprintf(&b, "Values are free text. When the contract does not mention a field use the exact string %q.\n\n", NotSpecified)
	b.WriteString("Contract:\n\"\"\"\n")
	b.WriteString(text)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}

func writeGroup(b *strings.Builder, group string, fields []string) {
	fmt.Fprintf(b, "\n%s:\n", group)
	for _, f := range fields {
		fmt.Fprintf(b, "- %s: %s\n", f, fieldDescriptions[f])
	}
}
