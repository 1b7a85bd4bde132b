package datagen

import (
	"text/template"
)

const systemPrompt = "You are an AI assistant specialized in generating high-quality datasets for machine learning tasks."

type datasetPromptFields struct {
	UseCase    string
	NumSamples int
	FewShot    string
}

const datasetPrompt = `
You are an AI assistant specialized in generating high-quality datasets for machine learning tasks.

**Use Case:** {{ .UseCase }}

**Instructions:**
- Generate a dataset with {{ .NumSamples }} samples.
- Each data point should be a JSON object.
- Follow the structure defined below.
- Ensure the data is diverse and covers various aspects of the use case.

**Dataset Structure:**
` + "```json" + `
[
    {
        "input": "<input_text>",
        "output": "<output_text>"
    },
    ...
]
` + "```" + `

**Two-Shot Examples:**
` + "```json" + `
[
    {
        "input": "How can I reset my password?",
        "output": "To reset your password, click on 'Forgot Password' on the login page and follow the instructions sent to your email."
    },
    {
        "input": "What is the refund policy?",
        "output": "Our refund policy allows you to return products within 30 days of purchase for a full refund, provided the items are in original condition."
    }
]
` + "```" + `
{{ if .FewShot }}

**Few-Shot Examples:**
` + "```json" + `
{{ .FewShot }}
` + "```" + `
{{ end }}

**Generated Dataset:**`

var datasetPromptTmpl = template.Must(template.New("datasetPrompt").Parse(datasetPrompt))
