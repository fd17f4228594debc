package domain

// Processing flags attached to a document by the stages.
const (
	FlagLowWordCount      = "low_word_count"
	FlagNoTextExtracted   = "no_text_extracted"
	FlagDuplicateContent  = "duplicate_content"
	FlagLargeFile         = "large_file"
	FlagContainsPII       = "contains_pii"
	FlagHighValue         = "high_value"
	FlagOCRRequired       = "ocr_required"
	FlagFallbackExtractor = "fallback_extractor"
)

// LargeFileWarning is attached to uploads above LargeFileBytes.
const LargeFileWarning = "Large file; OCR quality may vary"
