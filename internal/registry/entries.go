package registry

import "github.com/ethereum/go-ethereum/common"

// DefaultEntries returns the registered application set for Monad testnet.
// common.HexToAddress canonicalizes the mixed-case source addresses, so
// lookups are case-insensitive by construction.
func DefaultEntries() []*Entry {
	return []*Entry{
		{
			AppID:       "kuru",
			Name:        "Kuru",
			Description: "Find and trade your coins on a fully on-chain CLOB.",
			Category:    "DeFi::DEX",
			Action:      "swap",
			Website:     "https://kuru.io/",
			Contracts: []ContractRef{
				{Name: "Router", Address: common.HexToAddress("0xc816865f172d640d93712C68a7E1F83F3fA63235")},
				{Name: "MarginAccount", Address: common.HexToAddress("0x4B186949F31FCA0aD08497Df9169a6bEbF0e26ef")},
				{Name: "KuruForwarder", Address: common.HexToAddress("0x350678D87BAa7f513B262B7273ad8Ccec6FF0f78")},
				{Name: "MONUSDC", Address: common.HexToAddress("0xd8336cB07D4BE511cCaF06B799851E1A80F98c71")},
				{Name: "KuruDeployer", Address: common.HexToAddress("0x67a4e43C7Ce69e24d495A39c43489BC7070f009B")},
				{Name: "KuruUtils", Address: common.HexToAddress("0x0Ec4760f18c70BeACDCDB2a12edde02382CF1f66")},
			},
		},
		{
			AppID:       "atlantis",
			Name:        "Atlantis",
			Description: "Modular V4 DEX offering cross-chain swaps, DeFi, a launchpad, farming and staking.",
			Category:    "DeFi::DEX",
			Action:      "swap",
			Website:     "https://atlantisdex.xyz",
			Contracts: []ContractRef{
				{Name: "SwapRouter", Address: common.HexToAddress("0x3012E9049d05B4B5369D690114D5A5861EbB85cb")},
				{Name: "V2SwapRouterV2", Address: common.HexToAddress("0xc7E09B556E1a00cfc40b1039D6615f8423136Df7")},
				{Name: "V2SwapFactory", Address: common.HexToAddress("0xa2b78D020a4521866e129E27505B6c20AE9e3852")},
				{Name: "AlgebraFactory", Address: common.HexToAddress("0x10253594A832f967994b44f33411940533302ACb")},
				{Name: "QuoterV2", Address: common.HexToAddress("0xa77aD9f635a3FB3bCCC5E6d1A87cB269746Aba17")},
				{Name: "NonfungiblePositionManager", Address: common.HexToAddress("0x69D57B9D705eaD73a5d2f2476C30c55bD755cc2F")},
				{Name: "AtlantisSwapRouter", Address: common.HexToAddress("0x0000000000001fF3684f28c67538d4D072C22734")},
			},
		},
		{
			AppID:       "pingu",
			Name:        "Pingu Exchange",
			Description: "Efficient swap platform for seamless token exchanges with optimized routing.",
			Category:    "DeFi::DEX",
			Action:      "swap",
			Website:     "https://pingu.exchange/",
			Contracts: []ContractRef{
				{Name: "SwapContract", Address: common.HexToAddress("0x3d7ec93875B6a6f0A5102fE29f887ee6E751b12F")},
			},
		},
		{
			AppID:       "magma",
			Name:        "Magma",
			Description: "Staking protocol offering high yield opportunities with transparent rewards.",
			Category:    "DeFi::Staking",
			Action:      "staking",
			Website:     "https://www.magmastaking.xyz/",
			Contracts: []ContractRef{
				{Name: "StakingContract", Address: common.HexToAddress("0x2c9C959516e9AAEdB2C748224a41249202ca8BE7")},
			},
		},
		{
			AppID:       "monorail",
			Name:        "Monorail",
			Description: "Advanced DEX with aggregated liquidity and optimal swap routing.",
			Category:    "DeFi::DEX",
			Action:      "swap",
			Website:     "https://testnet-preview.monorail.xyz/",
			Contracts: []ContractRef{
				{Name: "AggregateContract", Address: common.HexToAddress("0x525B929fCd6a64AfF834f4eeCc6E860486cED700")},
			},
		},
		{
			AppID:       "beanexchange",
			Name:        "Bean Exchange",
			Description: "Spot trading platform for token swaps with competitive rates and low slippage.",
			Category:    "DeFi::DEX",
			Action:      "swap",
			Website:     "https://spot.bean.exchange/swap",
			Contracts: []ContractRef{
				{Name: "SwapRouter", Address: common.HexToAddress("0x04697F2675B8E37406Bfe217161F2e876410138D")},
			},
		},
		{
			AppID:       "octoswap",
			Name:        "OctoSwap",
			Description: "Fast and reliable decentralized exchange with multi-chain support.",
			Category:    "DeFi::DEX",
			Action:      "swap",
			Website:     "https://testnet.octo.exchange/swap",
			Contracts: []ContractRef{
				{Name: "ExecuteContract", Address: common.HexToAddress("0x8B1fb7B1da49F111A2C0C11925D5bB86a2fab88E")},
			},
		},
	}
}
