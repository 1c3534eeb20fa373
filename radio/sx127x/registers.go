package sx127x

// LoRa mode register map, SX1276/77/78/79 datasheet section 6.4.
const (
	regFifo               = 0x00
	regOpMode             = 0x01
	regFrfMsb             = 0x06
	regFrfMid             = 0x07
	regFrfLsb             = 0x08
	regPaConfig           = 0x09
	regOcp                = 0x0B
	regLna                = 0x0C
	regFifoAddrPtr        = 0x0D
	regFifoTxBaseAddr     = 0x0E
	regFifoRxBaseAddr     = 0x0F
	regFifoRxCurrentAddr  = 0x10
	regIrqFlags           = 0x12
	regRxNbBytes          = 0x13
	regPktSnrValue        = 0x19
	regPktRssiValue       = 0x1A
	regModemConfig1       = 0x1D
	regModemConfig2       = 0x1E
	regPreambleMsb        = 0x20
	regPreambleLsb        = 0x21
	regPayloadLength      = 0x22
	regModemConfig3       = 0x26
	regDetectionOptimize  = 0x31
	regInvertIQ           = 0x33
	regDetectionThreshold = 0x37
	regSyncWord           = 0x39
	regInvertIQ2          = 0x3B
	regDioMapping1        = 0x40
	regVersion            = 0x42
	regPaDac              = 0x4D
)

const (
	modeLongRange    = 0x80
	modeSleep        = 0x00
	modeStandby      = 0x01
	modeTx           = 0x03
	modeRxContinuous = 0x05
)

const (
	irqRxDone          = 0x40
	irqPayloadCRCError = 0x20
	irqValidHeader     = 0x10
	irqTxDone          = 0x08
)

const (
	paBoost = 0x80

	// chipVersion is what regVersion reads back on SX1276/77/78/79 silicon.
	chipVersion = 0x12

	// crystal is the reference oscillator, Frf = f * 2^19 / crystal.
	crystal = 32000000

	maxPayload = 255

	// frequencies below this use the LF port RSSI offset
	hfPortThresholdHz = 868000000
	rssiOffsetLF      = 164
	rssiOffsetHF      = 157
)
