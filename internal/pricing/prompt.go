package pricing

import (
	"fmt"
	"strconv"

	"gemprice/internal/models"
)

const promptTemplate = `You are an expert pricing consultant. Analyze the following product data and provide a pricing recommendation.

Product Details:
- Cost Price: $%s
- Competitor Price: %s
- Inventory Level: %s
- Season: %s
- Category: %s

Please provide a pricing recommendation with the following considerations:
1. Maintain healthy profit margins (at least 20%% above cost)
2. Consider competitive positioning
3. Factor in inventory levels (higher inventory = more aggressive pricing)
4. Adjust for seasonal demand
5. Category-specific pricing strategies

Respond with ONLY a valid JSON object in this exact format:
{
    "suggested_price": 99.99,
    "reasoning": "Clear explanation of the pricing decision",
    "confidence_score": 0.85
}

No additional text, explanations, or formatting - just the JSON object.`

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// BuildPrompt renders the recommendation prompt for req.
func BuildPrompt(req models.PriceRequest) string {
	competitor := "not provided"
	if req.CompetitorPrice != nil {
		competitor = "$" + formatMoney(*req.CompetitorPrice)
	}
	return fmt.Sprintf(promptTemplate,
		formatMoney(req.CostPrice),
		competitor,
		req.InventoryLevel,
		req.Season,
		req.Category,
	)
}
