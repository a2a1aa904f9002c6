package testing

// Well-known classic addresses used across the test suites. They are real,
// checksum-valid addresses; only Master has a known secret.
const (
	Master  = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	Alice   = "rPMh7Pi9ct699iZUTWaytJUoHcJ7cgyziK"
	Bob     = "rGWrZyQqhTp9Xu7G5Pkayo7bXjH4k4QYpf"
	Carol   = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
	Dave    = "rMBzp8CgpE441cp5PVyA9rpVV7oT8hP3ys"
	Eve     = "rH4KEcG9dEwGwpn6AyoWK9cZPLL4RLSmWW"
	Gateway = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"
)

// MasterSeed is the genesis family seed ("masterpassphrase"). It derives
// Master.
const MasterSeed = "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"
