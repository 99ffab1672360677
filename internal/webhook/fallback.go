package webhook

import (
	"strings"
	"unicode"
)

type fallbackTopic struct {
	keywords []string
	reply    string
}

// fallbackTopics is matched in order; the first topic with a keyword that
// starts at a word boundary of the lower-cased message wins.
var fallbackTopics = []fallbackTopic{
	{
		keywords: []string{"profit", "earning", "margin"},
		reply: "To improve farm profit, start by tracking every expense and income entry per crop so you can see which crops actually pay. " +
			"Compare revenue per acre against input costs, focus land on the highest-margin crops, and look at selling directly to buyers " +
			"or through cooperatives to capture a better price than the local middleman offers.",
	},
	{
		keywords: []string{"when to plant", "planting", "plant", "sow", "sowing"},
		reply: "Planting time depends on your crop, region and the arrival of reliable moisture. As a rule, sow warm-season crops once " +
			"soil temperatures stay above 15°C and the risk of frost has passed, and plant cool-season crops early so they mature before " +
			"peak heat. Check your local agricultural extension calendar and record planting dates so you can compare yields year to year.",
	},
	{
		keywords: []string{"reduce", "expense", "cost", "saving", "save money", "cheaper"},
		reply: "To reduce farming expenses, review your largest cost lines first: fertilizer, seed, fuel, labour and machinery. " +
			"Use soil tests to apply only the fertilizer your fields need, buy inputs in bulk or through a group, share or rent equipment " +
			"instead of buying it, and keep machinery serviced to avoid expensive breakdowns. Logging every expense makes the savings visible.",
	},
	{
		keywords: []string{"rotation", "rotate"},
		reply: "Crop rotation breaks pest and disease cycles and keeps soil fertile. A simple plan alternates heavy feeders such as maize " +
			"with legumes like beans or groundnuts that fix nitrogen, followed by root crops or a fallow or cover crop. Avoid planting the " +
			"same crop family in the same field two seasons in a row.",
	},
	{
		keywords: []string{"weather", "rainfall", "rainy", "drought", "climate", "frost"},
		reply: "Weather is the biggest risk on most farms. Follow a reliable local forecast before planting, spraying or harvesting, " +
			"conserve water with mulching and drip irrigation during dry spells, and consider drought-tolerant varieties. Keeping records of " +
			"rainfall alongside your yields helps you plan the next season.",
	},
	{
		keywords: []string{"soil", "fertilizer", "fertiliser", "compost", "manure", "nutrient"},
		reply: "Healthy soil is the foundation of good yields. Test your soil every few seasons to know its pH and nutrient levels, add " +
			"compost or well-rotted manure to build organic matter, and apply fertilizer in split doses matched to crop needs. Cover crops " +
			"and reduced tillage help protect the soil from erosion.",
	},
}

const genericFallback = "I'm your farming assistant, but I can't reach the advisory service right now. I can still help with general " +
	"guidance on crop planning, reducing expenses, improving profit, crop rotation, weather risk and soil health. " +
	"Please try again in a moment for a more detailed answer."

// FallbackReply returns the canned answer for the first topic whose keywords
// appear in message, or a generic farming-assistant answer.
func FallbackReply(message string) string {
	text := normalizeWords(message)
	for _, topic := range fallbackTopics {
		for _, kw := range topic.keywords {
			if strings.Contains(text, " "+kw) {
				return topic.reply
			}
		}
	}
	return genericFallback
}

// normalizeWords lower-cases message and reduces it to single-space separated
// words with a leading space, so " "+keyword only matches at a word start.
func normalizeWords(message string) string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ")
}
