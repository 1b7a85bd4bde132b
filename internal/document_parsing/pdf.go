package document_parsing

import (
	"fmt"
	"path/filepath"
	"strings"

	"finetune-pipeline/pkg/api"

	"github.com/gen2brain/go-fitz"
)

const previewChars = 500

func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// PDFToText extracts the text of every page. Pages without text are skipped,
// every other page is followed by a newline.
func PDFToText(contents []byte) (string, error) {
	doc, err := fitz.NewFromMemory(contents)
	if err != nil {
		return "", fmt.Errorf("error opening pdf: %w", err)
	}
	defer doc.Close()

	text := new(strings.Builder)
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("error extracting text from page %d: %w", i, err)
		}
		if pageText != "" {
			text.WriteString(pageText)
			text.WriteString("\n")
		}
	}

	return text.String(), nil
}

// FewShotFromText builds the guiding examples used when generating a dataset
// from uploaded documents. Only a short preview of the text is embedded.
func FewShotFromText(text string) []api.Sample {
	preview := text
	if runes := []rune(text); len(runes) > previewChars {
		preview = string(runes[:previewChars])
	}

	return []api.Sample{
		{
			Input:  "What is the main topic of the uploaded documents?",
			Output: fmt.Sprintf("The uploaded documents discuss the following topics:\n%s...", preview),
		},
		{
			Input:  "Provide a summary of the key points from the uploaded documents.",
			Output: fmt.Sprintf("Based on the uploaded documents, here are the key points:\n%s...", preview),
		},
	}
}
