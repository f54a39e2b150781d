// Package types - cloud billing row shapes
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchType records which OCP identifier a cloud resource id matched.
type MatchType string

const (
	MatchNode      MatchType = "node"
	MatchPV        MatchType = "pv"
	MatchCSIHandle MatchType = "csi_handle"
)

// CostFlavors carries the four parallel cost columns that flow through
// attribution independently.
type CostFlavors struct {
	Unblended   decimal.Decimal
	Blended     decimal.Decimal
	SavingsPlan decimal.Decimal
	Amortized   decimal.Decimal
}

// Add returns the element-wise sum
func (c CostFlavors) Add(o CostFlavors) CostFlavors {
	return CostFlavors{
		Unblended:   c.Unblended.Add(o.Unblended),
		Blended:     c.Blended.Add(o.Blended),
		SavingsPlan: c.SavingsPlan.Add(o.SavingsPlan),
		Amortized:   c.Amortized.Add(o.Amortized),
	}
}

// Mul returns each flavor multiplied by f
func (c CostFlavors) Mul(f decimal.Decimal) CostFlavors {
	return CostFlavors{
		Unblended:   c.Unblended.Mul(f),
		Blended:     c.Blended.Mul(f),
		SavingsPlan: c.SavingsPlan.Mul(f),
		Amortized:   c.Amortized.Mul(f),
	}
}

// CloudLineItem is a cost-explorer style billing row, extended in place with
// matcher outputs the way the reference pipeline adds columns.
type CloudLineItem struct {
	// ResourceID is the cloud resource identifier, possibly ARN-prefixed
	ResourceID string

	// UsageStart is the line item usage start, timezone-naive UTC
	UsageStart time.Time

	// ProductCode is the cloud product (e.g. AmazonEC2)
	ProductCode string

	// UsageType is the metered usage type (e.g. EBS:VolumeUsage.gp2)
	UsageType string

	AccountID        string
	Region           string
	AvailabilityZone string
	InstanceType     string
	Currency         string

	// Cost carries the four cost flavors for this line item
	Cost CostFlavors

	// UnblendedRate is the hourly rate backing the unblended cost
	UnblendedRate decimal.Decimal

	// UsageAmount is the metered quantity
	UsageAmount float64

	// Tags is the raw JSON tag map
	Tags string

	// CostCategory is the raw JSON aws-cost-category map
	CostCategory string

	// DataTransferDirection is IN, OUT, or empty for non-network rows
	DataTransferDirection DataTransferDirection

	// Matcher outputs. ResourceIDMatched and TagMatched are mutually
	// exclusive: rows already resource-matched are skipped by the tag
	// matcher entirely.
	ResourceIDMatched bool
	MatchedResourceID string
	MatchType         MatchType

	TagMatched       bool
	MatchedTag       string
	MatchedCluster   string
	MatchedNode      string
	MatchedNamespace string
}

// Matched reports whether either matcher claimed this row.
func (c *CloudLineItem) Matched() bool {
	return c.ResourceIDMatched || c.TagMatched
}

// IsStorage reports whether the line item belongs to the storage family.
func (c *CloudLineItem) IsStorage() bool {
	return strings.Contains(c.UsageType, "EBS")
}

// IsNetwork reports whether the line item carries a data-transfer direction.
func (c *CloudLineItem) IsNetwork() bool {
	return c.DataTransferDirection == TransferIn || c.DataTransferDirection == TransferOut
}
