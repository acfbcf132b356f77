package agent

const transcribePrompt = `Transcribe exactly what is said in this medical audio clip. Return only the transcription text.`

// translatePrompt takes the target language and the source text.
const translatePrompt = `Translate to %s. Detect the source language.

Return ONLY a JSON object, no markdown fences or other text:
{"translated_text": "...", "detected_language": "..."}

Text: %s`

const scribeSystemPrompt = `You are a professional medical scribe.`

// summaryPrompt takes the formatted transcript.
const summaryPrompt = `Summarize this encounter with headings: Symptoms, Observations, Diagnosis, Treatment, Follow-up.

Transcript:
%s`
