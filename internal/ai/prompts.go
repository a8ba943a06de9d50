package ai

// ExtractionPrompt asks the model for the snippets a learner emphasized.
const ExtractionPrompt = `From this image, extract the information the user has emphasized (highlighted, underlined, circled or annotated) and wants to memorize for language learning.
Respond with a JSON object of the form:
{"message": "<short user-facing summary>", "extractions": [{"snippet": "<emphasized text>", "context": "<surrounding sentence or null>", "reason": "<why it looks emphasized>", "comment": "<handwritten note or null>"}]}`

// GenerationPrompt asks the model for protonotes per extraction.
const GenerationPrompt = `Create flashcard protonotes for each extraction below.
Use type "Meaning" with fields concept and examples for words or phrases, and type "English Noun" with fields singular, plural and examples for countable English nouns.
Respond with a JSON object of the form:
{"message": "<short user-facing summary>", "protonotes": [{"extraction_id": "<id of the source extraction>", "type": "Meaning", "concept": "...", "examples": ["..."]}]}
Extractions:
`
