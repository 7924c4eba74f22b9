package scraper

import "strings"

// blockPhrases are the verification and ban texts shown by the anti-bot
// providers in front of the supported sites. Matching is case-sensitive.
var blockPhrases = []string{
	"Verification Required",
	"Slide right to secure your access",
	"slide to verify",
	"Glissez vers la droite",
	"Vous avez été bloqué",
	"Vérification en cours",
	"Vous êtes un robot",
	"captcha",
	"CAPTCHA",
	"Captcha",
	"Access denied",
	"Access Denied",
	"blocked",
	"unusual traffic from your computer network",
	"requêtes suspectes provenant de votre réseau",
}

// benignMentions name captcha widgets in legal notices ("protégé par
// reCAPTCHA") on ordinary pages. They are removed before matching.
var benignMentions = strings.NewReplacer(
	"reCAPTCHA", "",
	"ReCAPTCHA", "",
	"recaptcha", "",
	"hCaptcha", "",
	"hcaptcha", "",
)

// IsBlocked reports whether the visible body text or the document title
// contains any known block phrase.
func IsBlocked(bodyText, title string) bool {
	return BlockPhrase(bodyText, title) != ""
}

// BlockPhrase returns the first block phrase found, or "".
func BlockPhrase(bodyText, title string) string {
	bodyText = benignMentions.Replace(bodyText)
	title = benignMentions.Replace(title)
	for _, phrase := range blockPhrases {
		if strings.Contains(bodyText, phrase) || strings.Contains(title, phrase) {
			return phrase
		}
	}
	return ""
}
