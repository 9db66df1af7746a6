package config

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PlatformRevenuePool 分配表中的主池
const PlatformRevenuePool = "platform_revenue_pool"

// ParseAllocations 解析资金池分配表，比例之和必须为 1
func ParseAllocations(raw map[string]string) ([]Allocation, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("finance.allocations 不能为空")
	}
	if _, ok := raw[PlatformRevenuePool]; !ok {
		return nil, fmt.Errorf("finance.allocations 缺少 %s", PlatformRevenuePool)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		if name != PlatformRevenuePool {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{PlatformRevenuePool}, names...)

	allocs := make([]Allocation, 0, len(names))
	sum := decimal.Zero
	for _, name := range names {
		ratio, err := decimal.NewFromString(raw[name])
		if err != nil {
			return nil, fmt.Errorf("finance.allocations.%s 配置错误: %w", name, err)
		}
		if ratio.IsNegative() {
			return nil, fmt.Errorf("finance.allocations.%s 不能为负数", name)
		}
		sum = sum.Add(ratio)
		allocs = append(allocs, Allocation{Pool: name, Ratio: ratio})
	}

	if !sum.Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("finance.allocations 比例之和必须为1，当前为 %s", sum.String())
	}
	return allocs, nil
}
