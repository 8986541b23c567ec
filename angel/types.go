package angel

import (
	"angelone_tickstream/models"
	"angelone_tickstream/subscription"
)

type TokenSubscription struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type SubscribeRequest struct {
	CorrelationID string             `json:"correlationID"`
	Action        int                `json:"action"`
	Params        SubscriptionParams `json:"params"`
}

type SubscriptionParams struct {
	Mode      int                 `json:"mode"`
	TokenList []TokenSubscription `json:"tokenList"`
}

// UnsubscribeRequest differs from SubscribeRequest in the casing of the
// correlation id key and the name of the token list; the feed expects both as-is.
type UnsubscribeRequest struct {
	CorrelationID string               `json:"correlationId"`
	Action        int                  `json:"action"`
	Params        UnsubscriptionParams `json:"params"`
}

type UnsubscriptionParams struct {
	Mode     int                 `json:"mode"`
	Exchange []TokenSubscription `json:"exchange"`
}

func NewSubscribeRequest(correlationID string, g subscription.Group) SubscribeRequest {
	return SubscribeRequest{
		CorrelationID: correlationID,
		Action:        int(models.SubscribeAction),
		Params: SubscriptionParams{
			Mode:      int(g.Mode),
			TokenList: []TokenSubscription{{ExchangeType: int(g.Exchange), Tokens: g.Tokens}},
		},
	}
}

func NewUnsubscribeRequest(correlationID string, g subscription.Group) UnsubscribeRequest {
	return UnsubscribeRequest{
		CorrelationID: correlationID,
		Action:        int(models.UnsubscribeAction),
		Params: UnsubscriptionParams{
			Mode:     int(g.Mode),
			Exchange: []TokenSubscription{{ExchangeType: int(g.Exchange), Tokens: g.Tokens}},
		},
	}
}
