package stats_test

import (
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/pidtune/internal/stats"
)

// dominated builds k=3 methods over n blocks where A is B minus a large
// constant on every block and C is independent noise.
func dominated(n int, seed int64) map[string][]float64 {
	rng := rand.New(rand.NewSource(seed))
	a, b, c := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		b[i] = 100 + rng.Float64()*10
		a[i] = b[i] - 1000
		c[i] = 100 + rng.Float64()*10
	}
	return map[string][]float64{"A": a, "B": b, "C": c}
}

var _ = Describe("RankData", func() {
	It("ranks ascending from one", func() {
		ranks, ties := stats.RankData([]float64{3, 1, 2})
		Expect(ranks).To(Equal([]float64{3, 1, 2}))
		Expect(ties).To(BeZero())
	})

	It("averages tied ranks", func() {
		ranks, ties := stats.RankData([]float64{5, 1, 5, 5})
		Expect(ranks).To(Equal([]float64{3, 1, 3, 3}))
		Expect(ties).To(Equal(24.0)) // 3^3 - 3
	})
})

var _ = Describe("Friedman", func() {
	It("ranks a dominating method first", func() {
		res, err := stats.Friedman(dominated(10, 1), stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())

		rankA, _ := res.Rank("A")
		rankB, _ := res.Rank("B")
		rankC, _ := res.Rank("C")
		Expect(rankA).To(Equal(1.0))
		Expect(rankA).To(BeNumerically("<", rankB))
		Expect(rankA).To(BeNumerically("<", rankC))
		Expect(res.Ranking[0].Method).To(Equal("A"))
	})

	It("satisfies the rank-sum identity", func() {
		const blocks, k = 10, 3
		res, err := stats.Friedman(dominated(blocks, 2), stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())

		var sum float64
		for _, mr := range res.Ranking {
			sum += mr.Rank * blocks
		}
		Expect(sum).To(BeNumerically("~", blocks*k*(k+1)/2, 1e-9))
		Expect(res.Methods).To(Equal(k))
		Expect(res.Blocks).To(Equal(blocks))
	})

	It("matches the closed form for a strict ordering", func() {
		// Every block ranks A < B < C: chi2 = 12/(n k (k+1)) * n^2 * 14 - 3n(k+1) = 2n.
		n := 6
		s := map[string][]float64{"A": make([]float64, n), "B": make([]float64, n), "C": make([]float64, n)}
		for i := 0; i < n; i++ {
			s["A"][i], s["B"][i], s["C"][i] = 1, 2, 3
		}
		res, err := stats.Friedman(s, stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Statistic).To(BeNumerically("~", 12.0, 1e-9))
		// Survival of chi2(2) is exp(-x/2).
		Expect(res.PValue).To(BeNumerically("~", math.Exp(-6), 1e-9))
		Expect(res.Significant).To(BeTrue())
		Expect(res.Warnings).To(BeEmpty())
	})

	It("reports no difference when every block is tied", func() {
		s := map[string][]float64{"A": {1, 1, 1}, "B": {1, 1, 1}, "C": {1, 1, 1}}
		res, err := stats.Friedman(s, stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Statistic).To(BeZero())
		Expect(res.PValue).To(Equal(1.0))
		Expect(res.Significant).To(BeFalse())
	})

	It("truncates to the shortest sample", func() {
		s := dominated(8, 3)
		s["C"] = s["C"][:5]
		res, err := stats.Friedman(s, stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Blocks).To(Equal(5))
	})

	It("warns below five blocks", func() {
		res, err := stats.Friedman(dominated(4, 4), stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Warnings).To(HaveLen(1))
	})

	It("rejects fewer than three methods", func() {
		s := dominated(10, 5)
		delete(s, "C")
		_, err := stats.Friedman(s, stats.DefaultAlpha)
		Expect(err).To(MatchError(stats.ErrInsufficientMethods))
	})

	It("rejects fewer than three blocks", func() {
		s := dominated(10, 6)
		s["B"] = s["B"][:2]
		_, err := stats.Friedman(s, stats.DefaultAlpha)
		Expect(err).To(MatchError(stats.ErrInsufficientBlocks))
	})
})

var _ = Describe("Nemenyi", func() {
	It("uses the tabulated critical difference", func() {
		cd, err := stats.CriticalDifference(3, 10, 0.05)
		Expect(err).NotTo(HaveOccurred())
		Expect(cd).To(BeNumerically("~", 2.569*math.Sqrt(12.0/60.0), 1e-12))
		Expect(cd).To(BeNumerically("~", 1.1489, 5e-4))
	})

	It("rejects an untabulated alpha", func() {
		_, err := stats.CriticalDifference(3, 10, 0.2)
		Expect(err).To(MatchError(stats.ErrUnknownAlpha))
	})

	It("compares every unordered pair in rank order", func() {
		fr, err := stats.Friedman(dominated(10, 7), stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())

		res, err := stats.Nemenyi(fr, stats.DefaultAlpha)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Comparisons).To(HaveLen(3))
		Expect(res.Comparisons[0].A).To(Equal("A"))

		for _, c := range res.Comparisons {
			Expect(c.Significant).To(Equal(c.Diff > res.CD))
		}
		// A sits at rank 1, B and C share ranks 2 and 3, so A differs from
		// whichever ranks last by more than CD.
		Expect(res.Comparisons[1].Significant).To(BeTrue())
	})
})

var _ = Describe("Describe", func() {
	It("summarises a sample", func() {
		s := stats.Describe([]float64{4, 1, 3, 2})
		Expect(s.N).To(Equal(4))
		Expect(s.Mean).To(Equal(2.5))
		Expect(s.Min).To(Equal(1.0))
		Expect(s.Max).To(Equal(4.0))
		Expect(s.StdDev).To(BeNumerically("~", math.Sqrt(5.0/3.0), 1e-12))
	})

	It("handles empty and single samples", func() {
		Expect(stats.Describe(nil).N).To(BeZero())
		Expect(stats.Describe([]float64{7}).StdDev).To(BeZero())
	})

	It("averages the middle pair for even sample sizes", func() {
		Expect(stats.Describe([]float64{4, 1, 3, 2}).Median).To(Equal(2.5))
		Expect(stats.Describe([]float64{10, 0}).Median).To(Equal(5.0))
		Expect(stats.Describe([]float64{3, 1, 2}).Median).To(Equal(2.0))
		Expect(stats.Describe([]float64{7}).Median).To(Equal(7.0))
	})
})
