package textproc

var stopwords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and", "any", "are",
	"aren", "as", "at", "be", "because", "been", "before", "being", "below", "between", "both",
	"but", "by", "can", "couldn", "did", "didn", "do", "does", "doesn", "doing", "don", "down",
	"during", "each", "few", "for", "from", "further", "had", "hadn", "has", "hasn", "have",
	"haven", "having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
	"i", "if", "in", "into", "is", "isn", "it", "its", "itself", "just", "ll", "me", "more",
	"most", "mustn", "my", "myself", "needn", "no", "nor", "not", "now", "of", "off", "on",
	"once", "only", "or", "other", "our", "ours", "ourselves", "out", "over", "own", "re",
	"same", "shan", "she", "should", "shouldn", "so", "some", "such", "than", "that", "the",
	"their", "theirs", "them", "themselves", "then", "these", "they", "this", "those",
	"through", "to", "too", "under", "until", "up", "very", "was", "wasn", "we", "were",
	"weren", "what", "when", "where", "which", "while", "who", "whom", "why", "will", "with",
	"won", "wouldn", "you", "your", "yours", "yourself", "yourselves",
	// contractions that survive letter-only splitting
	"there", "ive", "im", "feel",
)

// commonWords appear in almost every review and carry no section signal.
var commonWords = toSet(
	"company", "say", "job", "provided", "work", "employee", "employees", "time",
	"good", "great", "well", "need", "make", "get", "would", "could", "really", "also",
	"lot", "things", "like",
)

// IsStopword reports whether w is an English stopword.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// IsCommonWord reports whether w is a domain word too frequent to be a signal.
func IsCommonWord(w string) bool {
	_, ok := commonWords[w]
	return ok
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
