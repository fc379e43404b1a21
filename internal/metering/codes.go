package metering

import "strconv"

// CodeSuccess is the gateway's success code.
const CodeSuccess = "0"

// failedBelow is the first code that no longer counts as a failed purchase.
const failedBelow = 19

// gatewayMessages covers every code the metering back-end documents.
var gatewayMessages = map[string]string{
	"0":  "Success",
	"3":  "Failed to calculate the fee",
	"4":  "Failed to connect to LAPIS server",
	"5":  "Failed to save bill record into the database",
	"10": "Invalid meter number",
	"11": "Customer does not exist",
	"12": "Customer account status is abnormal",
	"13": "Invalid platform ID",
	"20": "Invalid payment",
	"22": "Payment is too much, exceeds maximum purchase limitation",
	"23": "Payment is too little, less than the additional fee",
	"40": "Invalid transaction ID",
	"41": "Transaction ID has already been used",
	"42": "Decryption failed, root key may be invalid",
}

// purchaseMessages is the subset the purchase operation reports directly.
var purchaseMessages = map[string]string{
	"0":  "Success",
	"4":  "Failed to connect to LAPIS server",
	"10": "Invalid meter number",
	"11": "Customer does not exist",
	"12": "Customer account status is abnormal",
	"13": "Invalid platform ID",
}

// LookupMessage maps a customer lookup code to its message.
func LookupMessage(code string) (string, bool) {
	msg, ok := gatewayMessages[code]
	return msg, ok
}

// PurchaseMessage maps a purchase code to its message, consulting the full
// gateway table for codes the purchase table does not list.
func PurchaseMessage(code string) (string, bool) {
	if msg, ok := purchaseMessages[code]; ok {
		return msg, true
	}
	return LookupMessage(code)
}

// Classification is the outcome class of a purchase.
type Classification string

const (
	ClassSuccess  Classification = "success"
	ClassFailed   Classification = "failed"
	ClassRejected Classification = "rejected"
)

// Classify buckets a purchase code. Non-numeric codes are rejected.
func Classify(code string) Classification {
	if code == CodeSuccess {
		return ClassSuccess
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return ClassRejected
	}
	if n < failedBelow {
		return ClassFailed
	}
	return ClassRejected
}

// ServiceStatus is the status reported to the payment collaborator for a
// class. Only ClassFailed reports "failed".
func (c Classification) ServiceStatus() string {
	if c == ClassFailed {
		return "failed"
	}
	return "success"
}
