package uds

import (
	"fmt"
)

// ReadDTCInformation report types.
const (
	ReportNumberOfDTCByStatusMask      byte = 0x01
	ReportDTCByStatusMask              byte = 0x02
	ReportDTCSnapshotRecordByDTCNumber byte = 0x04
	ReportDTCExtDataRecordByDTCNumber  byte = 0x06
	ReportSupportedDTC                 byte = 0x0A
)

// DTC status bits.
const (
	StatusTestFailed                         byte = 0x01
	StatusTestFailedThisOperationCycle       byte = 0x02
	StatusPendingDTC                         byte = 0x04
	StatusConfirmedDTC                       byte = 0x08
	StatusTestNotCompletedSinceLastClear     byte = 0x10
	StatusTestFailedSinceLastClear           byte = 0x20
	StatusTestNotCompletedThisOperationCycle byte = 0x40
	StatusWarningIndicatorRequested          byte = 0x80
)

// DTCRecord is a 3-byte DTC with its status byte.
type DTCRecord struct {
	Code   uint32
	Status byte
}

// Name renders the first two bytes in SAE J2012 notation (P0122) and the
// failure type byte as a suffix.
func (d DTCRecord) Name() string {
	hi := byte(d.Code >> 16)
	lo := byte(d.Code >> 8)
	letter := "PCBU"[hi>>6]
	return fmt.Sprintf("%c%X%X%02X-%02X", letter, (hi>>4)&0x03, hi&0x0F, lo, byte(d.Code))
}

func (d DTCRecord) String() string {
	return fmt.Sprintf("%s status=0x%02X", d.Name(), d.Status)
}

func (d DTCRecord) Confirmed() bool { return d.Status&StatusConfirmedDTC != 0 }

// DTCList is the answer to report types 0x02 and 0x0A.
type DTCList struct {
	AvailabilityMask byte
	Records          []DTCRecord
}

// DTCCount is the answer to report type 0x01.
type DTCCount struct {
	AvailabilityMask byte
	Format           byte
	Count            uint16
}

// DTCRecordData is a snapshot or extended data answer for one DTC. Data is
// returned raw since its layout is ECU specific.
type DTCRecordData struct {
	DTC  DTCRecord
	Data []byte
}

func ReadDTCByStatusMask(mask byte) Request {
	return NewSubFunctionRequest(SIDReadDTCInformation, ReportDTCByStatusMask, mask)
}

func ReadNumberOfDTCByStatusMask(mask byte) Request {
	return NewSubFunctionRequest(SIDReadDTCInformation, ReportNumberOfDTCByStatusMask, mask)
}

func ReadSupportedDTCs() Request {
	return NewSubFunctionRequest(SIDReadDTCInformation, ReportSupportedDTC)
}

func ReadDTCSnapshotRecord(dtc uint32, recordNumber byte) Request {
	return NewSubFunctionRequest(SIDReadDTCInformation, ReportDTCSnapshotRecordByDTCNumber,
		byte(dtc>>16), byte(dtc>>8), byte(dtc), recordNumber)
}

func ReadDTCExtendedDataRecord(dtc uint32, recordNumber byte) Request {
	return NewSubFunctionRequest(SIDReadDTCInformation, ReportDTCExtDataRecordByDTCNumber,
		byte(dtc>>16), byte(dtc>>8), byte(dtc), recordNumber)
}

func dtcReportData(resp Response, reportType byte, minLen int) ([]byte, error) {
	data, err := positiveData(resp, SIDReadDTCInformation, minLen)
	if err != nil {
		return nil, err
	}
	if data[0] != reportType {
		return nil, &EchoMismatchError{ServiceID: SIDReadDTCInformation, Field: "report type", Expected: uint32(reportType), Got: uint32(data[0])}
	}
	return data, nil
}

// ParseDTCList decodes [report, availability, (DTC[3], status)*].
func ParseDTCList(resp Response, reportType byte) (DTCList, error) {
	data, err := dtcReportData(resp, reportType, 2)
	if err != nil {
		return DTCList{}, err
	}
	body := data[2:]
	if len(body)%4 != 0 {
		return DTCList{}, &RecordLengthError{ServiceID: SIDReadDTCInformation, RecordSize: 4, Got: len(body)}
	}
	list := DTCList{AvailabilityMask: data[1], Records: make([]DTCRecord, 0, len(body)/4)}
	for i := 0; i < len(body); i += 4 {
		list.Records = append(list.Records, DTCRecord{
			Code:   uint32(body[i])<<16 | uint32(body[i+1])<<8 | uint32(body[i+2]),
			Status: body[i+3],
		})
	}
	return list, nil
}

func ParseDTCCount(resp Response) (DTCCount, error) {
	data, err := dtcReportData(resp, ReportNumberOfDTCByStatusMask, 5)
	if err != nil {
		return DTCCount{}, err
	}
	return DTCCount{
		AvailabilityMask: data[1],
		Format:           data[2],
		Count:            uint16(data[3])<<8 | uint16(data[4]),
	}, nil
}

// ParseDTCRecordData decodes [report, DTC[3], status, records...] and
// checks the DTC echo.
func ParseDTCRecordData(resp Response, reportType byte, dtc uint32) (DTCRecordData, error) {
	data, err := dtcReportData(resp, reportType, 5)
	if err != nil {
		return DTCRecordData{}, err
	}
	got := uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	if got != dtc {
		return DTCRecordData{}, &EchoMismatchError{ServiceID: SIDReadDTCInformation, Field: "DTC", Expected: dtc, Got: got}
	}
	return DTCRecordData{
		DTC:  DTCRecord{Code: got, Status: data[4]},
		Data: data[5:],
	}, nil
}
