package deadline

import "time"

// start anchors the portable clock. time.Time carries a monotonic reading.
var start = time.Now()
