package mpesa

import (
	"encoding/json"
	"fmt"
)

type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        json.Number      `json:"ResultCode"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Receipt is empty on failures, which carry no metadata.
func (c StkCallback) Receipt() string {
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if value, ok := item.Value.(string); ok {
				return value
			}
			return fmt.Sprint(item.Value)
		}
	}
	return ""
}

func (c StkCallback) Code() string {
	return c.ResultCode.String()
}
