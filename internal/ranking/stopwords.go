package ranking

// defaultStopwords covers the English and French queries the catalog sees.
var defaultStopwords = []string{
	// English
	"a", "an", "and", "are", "as", "at", "be", "best", "buy", "by", "can", "cheap",
	"for", "from", "get", "have", "i", "in", "is", "it", "me", "my", "need",
	"of", "on", "or", "please", "show", "some", "something", "that", "the",
	"this", "to", "under", "want", "with", "without",
	// French
	"au", "aux", "avec", "ce", "ces", "cherche", "dans", "de", "des", "du",
	"elle", "en", "et", "il", "je", "la", "le", "les", "leur", "ma", "mais",
	"me", "mes", "moi", "mon", "ne", "nous", "ou", "par", "pas", "pour",
	"prix", "qu", "que", "qui", "sa", "se", "ses", "son", "sur", "ta", "te",
	"tes", "ton", "tu", "un", "une", "veux", "vos", "votre", "vous",
}
