package ai

import "strings"

func buildSinglePrompt(text, url string) string {
	return strings.TrimSpace(`
You are a data extraction tool. Extract the business described by the following website text.
The website URL is: ` + url + `

Return ONLY a single JSON object with these keys:
- name (string): the official business name, not a generic page title
- phone (string): Vietnamese formats such as 09x, 03x, 05x, 07x, 08x, 02x or +84
- email (string)
- address (string): the full physical address
- description (string): what the business does, at most 200 characters

Rules:
- If a field is not found, set it to null.
- If the text has neither a phone nor an email, return {}.
- Do not wrap the JSON in markdown.

Text:
` + text)
}

func buildMultiPrompt(text, url string) string {
	return strings.TrimSpace(`
You are a data extraction tool. The following text comes from a listing or directory page that names several businesses.
The website URL is: ` + url + `

Return ONLY a JSON object of the form {"businesses": [...]}. Each entry has these keys:
- name (string)
- phone (string)
- email (string)
- address (string)
- description (string)

Rules:
- Skip businesses that have neither a phone nor an email.
- If a field is not found, set it to null.
- Do not wrap the JSON in markdown.

Text:
` + text)
}
