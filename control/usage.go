package control

// maxAccessSamples bounds the per-key access history.
const maxAccessSamples = 10

// usagePattern tracks access recency per key. With two or more samples
// the mean inter-access gap predicts the next access; below that the
// prediction stays unset and prefetch skips the key.
type usagePattern struct {
	accessTimes         []int64
	meanIntervalMs      float64
	predictedNextAccess int64
}

func (u *usagePattern) touch(now int64) {
	u.accessTimes = append(u.accessTimes, now)
	if len(u.accessTimes) > maxAccessSamples {
		u.accessTimes = u.accessTimes[len(u.accessTimes)-maxAccessSamples:]
	}
	if len(u.accessTimes) < 2 {
		u.meanIntervalMs = 0
		u.predictedNextAccess = 0
		return
	}

	var total int64
	for i := 1; i < len(u.accessTimes); i++ {
		total += u.accessTimes[i] - u.accessTimes[i-1]
	}
	u.meanIntervalMs = float64(total) / float64(len(u.accessTimes)-1)
	u.predictedNextAccess = now + int64(u.meanIntervalMs)
}

func (c *Cache) touchUsageLocked(key string, now int64) {
	u, ok := c.usage[key]
	if !ok {
		u = &usagePattern{}
		c.usage[key] = u
	}
	u.touch(now)
}
