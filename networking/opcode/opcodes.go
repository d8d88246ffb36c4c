package opcode

const (
	RRQ   = iota + 1 // 1: Read request
	WRQ              // 2: Write request
	DATA             // 3: Block of file data
	ACK              // 4: Acknowledgement
	ERROR            // 5: Error
)
