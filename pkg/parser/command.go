package parser

import (
	"fmt"
	"regexp"
	"strings"

	"smartswap/pkg/types"
)

var (
	exactInPattern  = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)\s+(0X[0-9A-F]{40}|[A-Z0-9.]+)\s+(?:TO|FOR)\s+(0X[0-9A-F]{40}|[A-Z0-9.]+)$`)
	exactOutPattern = regexp.MustCompile(`^(0X[0-9A-F]{40}|[A-Z0-9.]+)\s+FOR\s+(\d+\.?\d*|\.\d+)\s+(0X[0-9A-F]{40}|[A-Z0-9.]+)$`)
)

// ParseSwapCommand parses a natural language swap command.
// The amount before the source token sells exactly that amount; an amount
// after FOR buys exactly that amount.
// Examples:
//   - "swap 1 ETH to USDC"      (EXACT_IN)
//   - "100 USDC for LINK"       (EXACT_IN)
//   - "swap USDC for 0.5 ETH"   (EXACT_OUT)
func ParseSwapCommand(command string) (*types.SwapRequest, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	if m := exactOutPattern.FindStringSubmatch(command); m != nil {
		return &types.SwapRequest{
			Amount:      m[2],
			SourceToken: normalizeRef(m[1]),
			DestToken:   normalizeRef(m[3]),
			Direction:   types.ExactOut,
		}, nil
	}

	if m := exactInPattern.FindStringSubmatch(command); m != nil {
		return &types.SwapRequest{
			Amount:      m[1],
			SourceToken: normalizeRef(m[2]),
			DestToken:   normalizeRef(m[3]),
			Direction:   types.ExactIn,
		}, nil
	}

	return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' or 'swap <token> for <amount> <token>'")
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if strings.EqualFold(req.SourceToken, req.DestToken) {
		return fmt.Errorf("source and destination tokens must differ")
	}
	return nil
}

// normalizeRef lowercases the 0x prefix of addresses; symbols stay upper case
func normalizeRef(ref string) string {
	if strings.HasPrefix(ref, "0X") && len(ref) == 42 {
		return "0x" + ref[2:]
	}
	return NormalizeTokenSymbol(ref)
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"ETHER": "ETH",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
