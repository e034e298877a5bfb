package dynamo

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/JakeFAU/site-tracker/internal/store"
)

// codeKinds maps API error codes. A missing table is a deployment problem,
// not a missing record, so ResourceNotFoundException is connectivity.
var codeKinds = map[string]store.ErrorKind{
	"ProvisionedThroughputExceededException":   store.KindCapacity,
	"ThrottlingException":                      store.KindCapacity,
	"RequestLimitExceeded":                     store.KindCapacity,
	"LimitExceededException":                   store.KindCapacity,
	"ConditionalCheckFailedException":          store.KindConflict,
	"TransactionConflictException":             store.KindCapacity,
	"TransactionInProgressException":           store.KindCapacity,
	"AccessDeniedException":                    store.KindAuth,
	"UnrecognizedClientException":              store.KindAuth,
	"ExpiredTokenException":                    store.KindAuth,
	"InvalidSignatureException":                store.KindAuth,
	"MissingAuthenticationTokenException":      store.KindAuth,
	"ValidationException":                      store.KindValidation,
	"ResourceNotFoundException":                store.KindConnectivity,
	"ItemCollectionSizeLimitExceededException": store.KindCapacity,
}

// reasonKinds maps the cancellation reasons of a transaction. A reason that
// is neither listed nor ConditionalCheckFailed is treated as connectivity.
var reasonKinds = map[string]store.ErrorKind{
	"ThrottlingError":                 store.KindCapacity,
	"ProvisionedThroughputExceeded":   store.KindCapacity,
	"RequestLimitExceeded":            store.KindCapacity,
	"TransactionConflict":             store.KindCapacity,
	"ItemCollectionSizeLimitExceeded": store.KindCapacity,
	"ValidationError":                 store.KindValidation,
}

func classify(op string, err error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		return store.E(canceledKind(canceled), op, Backend, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := codeKinds[apiErr.ErrorCode()]; ok {
			return store.E(kind, op, Backend, err)
		}
	}
	return store.E(store.KindConnectivity, op, Backend, err)
}

// canceledKind picks the kind of a cancelled transaction from its reasons.
// Capacity wins over validation so throttled writes stay retryable.
func canceledKind(canceled *types.TransactionCanceledException) store.ErrorKind {
	kind := store.KindConnectivity
	for _, reason := range canceled.CancellationReasons {
		code := aws.ToString(reason.Code)
		switch code {
		case "", "None":
			continue
		case "ConditionalCheckFailed":
			kind = store.KindConflict
			continue
		}
		k, ok := reasonKinds[code]
		if !ok {
			continue
		}
		if k == store.KindCapacity {
			return k
		}
		if kind == store.KindConnectivity {
			kind = k
		}
	}
	return kind
}
