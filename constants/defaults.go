package constants

import "time"

const (
	Title                = "Trivial File Transfer Protocol (RFC 1350), octet mode"
	DEFAULT_PORT         = 69                      // Well-known TFTP port
	BLOCK_SIZE           = 512                     // Data bytes per block
	MAX_DATAGRAM_SIZE    = 1024                    // Receive buffer, large enough to spot oversized blocks
	CLIENT_TIMEOUT       = 3000 * time.Millisecond // Wait for DATA
	SERVER_TIMEOUT       = 2000 * time.Millisecond // Wait for ACK
	DEFAULT_RETRIES      = 1                       // Resends of the last packet before giving up
	DEFAULT_DSCP         = 0x0A                    // QoS for high throughput
	DEFAULT_LISTEN       = "0.0.0.0"
	DEFAULT_MODE         = "octet"
	LZ4_SUFFIX           = ".lz4"
	DEFAULT_LOG_PREFIX   = "[TFTP] "
	DEFAULT_FILE_PERM    = 0644
	DEFAULT_WRITE_BUFFER = 64 * 1024 // Buffered writer size for downloads
)
