package util

// ClockFormat 定时发送的时间格式
const ClockFormat = "15:04"

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 配对二维码产物文件名
const (
	PairingURLFile     = "qr-url.txt"
	PairingPNGFile     = "whatsapp-qr.png"
	PairingDataURLFile = "qr-data-url.txt"
	MimePNG            = "image/png"
)
