package flow

import (
	"fmt"
	"strings"

	"github.com/LaporKota/LaporBot/internal/models"
)

// Citizen-facing reply templates. All replies are in Indonesian, matching the
// service audience. Exactly one reply is produced per inbound event.

const (
	menuBody = "Ketik *1* untuk membuat laporan baru.\n" +
		"Ketik *2* untuk mengecek status laporan.\n" +
		"Ketik *menu* kapan saja untuk kembali ke menu utama."

	welcomeText = "Halo! Selamat datang di layanan pengaduan masyarakat LaporKota.\n\n" + menuBody

	unknownOptionText = "Maaf, kami tidak mengenali pilihan Anda.\n\n" + menuBody

	fallbackText = "Maaf, terjadi kesalahan pada sesi Anda. Kami kembalikan ke menu utama.\n\n" + menuBody

	tryAgainText = "Maaf, terjadi gangguan pada sistem. Silakan coba lagi beberapa saat lagi."

	cancelledText = "Baik, proses dibatalkan. Anda kembali ke menu utama.\n\n" + menuBody

	askNameText = "Sebelum membuat laporan, kami perlu mendata Anda terlebih dahulu.\n" +
		"Silakan ketik *nama lengkap* Anda sesuai KTP."

	askSexText = "Terima kasih. Silakan ketik jenis kelamin Anda: *pria* atau *wanita*."

	invalidSexText = "Mohon jawab dengan *pria* atau *wanita*."

	askNIKText = "Silakan ketik *NIK* Anda (16 digit angka sesuai KTP)."

	invalidNIKText = "NIK tidak valid. NIK harus terdiri dari *16 digit angka*. Silakan coba lagi."

	askAddressText = "Silakan ketik *alamat lengkap* tempat tinggal Anda."

	askMessageText = "Silakan ketik *isi laporan* Anda. Jelaskan masalah yang ingin Anda adukan."

	appendMessageText = "Pesan tercatat. Anda dapat menambah baris keterangan lain,\n" +
		"atau ketik *kirim* jika isi laporan sudah lengkap. Ketik *batal* untuk membatalkan."

	lineAddedText = "Keterangan ditambahkan. Ketik *kirim* jika sudah lengkap, atau lanjutkan menambah keterangan."

	askLocationText = "Silakan *bagikan lokasi* kejadian melalui fitur share location WhatsApp " +
		"(klip > Lokasi). Ketik *batal* untuk membatalkan."

	needLocationText = "Mohon kirim lokasi melalui fitur *share location* WhatsApp, bukan teks. " +
		"Ketik *batal* untuk membatalkan."

	outsideAreaText = "Mohon maaf, lokasi yang Anda kirim berada di *luar wilayah layanan* kami. " +
		"Laporan hanya dapat diproses untuk kejadian di dalam wilayah layanan. " +
		"Silakan kirim lokasi lain atau ketik *batal*."

	askPhotoText = "Silakan kirim *foto* kejadian sebagai bukti (minimal 1, maksimal 3 foto).\n" +
		"Ketik *kirim* jika foto sudah cukup, atau *batal* untuk membatalkan."

	needPhotoText = "Laporan memerlukan *minimal 1 foto* sebagai bukti. Silakan kirim foto terlebih dahulu."

	photoRejectedText = "Mohon kirim *foto* sebagai lampiran, atau ketik *kirim* jika sudah cukup, " +
		"atau *batal* untuk membatalkan."

	askReportIDText = "Silakan ketik *nomor laporan* Anda (contoh: LAP-1A2B3C4D).\n" +
		"Ketik *kembali* untuk kembali ke menu utama."

	reportNotFoundText = "Nomor laporan tidak ditemukan. Mohon periksa kembali nomor laporan Anda, " +
		"atau ketik *kembali* untuk ke menu utama."

	answerFeedbackText = "Anda masih memiliki konfirmasi laporan yang belum dijawab.\n" +
		"Mohon jawab *puas* jika masalah sudah tertangani, atau *belum* jika belum."

	askRatingText = "Terima kasih atas konfirmasinya! Mohon beri *nilai 1-5* untuk pelayanan kami " +
		"(1 = sangat kurang, 5 = sangat baik)."

	invalidRatingText = "Mohon balas dengan *angka 1 sampai 5*."
)

// ratingReplies maps each star value to its own thank-you template.
var ratingReplies = map[int]string{
	1: "Terima kasih atas penilaian Anda. Kami mohon maaf atas pelayanan yang kurang memuaskan dan akan terus berbenah.",
	2: "Terima kasih atas penilaian Anda. Masukan Anda kami catat untuk perbaikan pelayanan.",
	3: "Terima kasih atas penilaian Anda. Kami akan terus meningkatkan kualitas pelayanan.",
	4: "Terima kasih atas penilaian Anda! Senang dapat membantu menyelesaikan laporan Anda.",
	5: "Terima kasih atas penilaian sempurna Anda! Kami senang laporan Anda tertangani dengan baik.",
}

// tindakanStatusLabels are the citizen-facing labels for triage statuses.
var tindakanStatusLabels = map[models.TindakanStatus]string{
	models.TindakanStatusNeedsVerification:    "Menunggu Verifikasi",
	models.TindakanStatusProcessing:           "Sedang Diproses",
	models.TindakanStatusAwaitingConfirmation: "Selesai, Menunggu Konfirmasi Anda",
	models.TindakanStatusClosed:               "Ditutup",
	models.TindakanStatusRejected:             "Ditolak",
}

func statusLabel(s models.TindakanStatus) string {
	if label, found := tindakanStatusLabels[s]; found {
		return label
	}
	return string(s)
}

func confirmDataReply(d *models.SignupData) string {
	return fmt.Sprintf("Mohon periksa data Anda:\n\n"+
		"Nama: %s\nJenis kelamin: %s\nNIK: %s\nAlamat: %s\n\n"+
		"Ketik *kirim* jika data sudah benar, atau *batal* untuk membatalkan.",
		d.Name, d.Sex, d.NIK, d.Address)
}

func profileCreatedReply() string {
	return "Data Anda berhasil disimpan. Sekarang mari lengkapi laporan Anda.\n\n" + askLocationText
}

func confirmMessageReply(lines []string) string {
	return fmt.Sprintf("Isi laporan Anda:\n\n%s\n\n"+
		"Ketik *kirim* untuk melanjutkan, atau *batal* untuk membatalkan.",
		strings.Join(lines, "\n"))
}

func confirmLocationReply(r *models.ReportData) string {
	place := "lokasi yang Anda kirim"
	if r.Village != "" {
		place = fmt.Sprintf("Kel. %s, Kec. %s, %s", r.Village, r.District, r.Regency)
	}
	return fmt.Sprintf("Lokasi kejadian tercatat di %s.\n\n"+
		"Ketik *kirim* jika lokasi sudah benar, kirim ulang lokasi untuk mengganti, "+
		"atau ketik *batal* untuk membatalkan.", place)
}

func photoReceivedReply(count int) string {
	return fmt.Sprintf("Foto %d dari %d diterima. Kirim foto lain atau ketik *kirim* jika sudah cukup.",
		count, models.MaxReportPhotos)
}

func photoLimitReply(r *models.ReportData) string {
	return fmt.Sprintf("Batas %d foto tercapai.\n\n%s", models.MaxReportPhotos, reviewReply(r))
}

func reviewReply(r *models.ReportData) string {
	location := r.LocationDesc
	if r.Village != "" {
		location = fmt.Sprintf("Kel. %s, Kec. %s, %s", r.Village, r.District, r.Regency)
	}
	return fmt.Sprintf("Ringkasan laporan Anda:\n\n"+
		"Isi laporan:\n%s\n\nLokasi: %s\nJumlah foto: %d\n\n"+
		"Ketik *konfirmasi* untuk mengirim laporan, atau *batal* untuk membatalkan.",
		strings.Join(r.Lines, "\n"), location, len(r.Photos))
}

func reportSubmittedReply(publicID string) string {
	return fmt.Sprintf("Laporan Anda berhasil dikirim dengan nomor *%s*.\n\n"+
		"Simpan nomor tersebut untuk mengecek status laporan (menu *2*). "+
		"Kami akan memberi kabar setelah laporan diverifikasi. Terima kasih!", publicID)
}

func reportDetailReply(r *models.Report, t *models.Tindakan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status laporan *%s*:\n\n", r.PublicID)
	fmt.Fprintf(&b, "Tanggal: %s\n", r.CreatedAt.Format("02-01-2006"))
	fmt.Fprintf(&b, "Isi: %s\n", r.Message)
	if r.Village != "" {
		fmt.Fprintf(&b, "Lokasi: Kel. %s, Kec. %s, %s\n", r.Village, r.District, r.Regency)
	}
	if t != nil {
		fmt.Fprintf(&b, "Status: %s\n", statusLabel(t.Status))
		if t.Notes != "" {
			fmt.Fprintf(&b, "Catatan petugas: %s\n", t.Notes)
		}
		if t.Status == models.TindakanStatusRejected && t.RejectReason != "" {
			fmt.Fprintf(&b, "Alasan: %s\n", t.RejectReason)
		}
	}
	b.WriteString("\nKetik *menu* untuk kembali ke menu utama.")
	return b.String()
}

func rejectionNoticeReply(t *models.Tindakan) string {
	reason := t.RejectReason
	if reason == "" {
		reason = "tidak memenuhi kriteria pelayanan"
	}
	return fmt.Sprintf("Mohon maaf, laporan Anda *ditolak* dengan alasan: %s.\n\n"+
		"Anda dapat membuat laporan baru melalui menu *1*.", reason)
}

func reprocessReply(remaining int) string {
	text := "Baik, laporan Anda akan kami *proses ulang*. Mohon menunggu kabar selanjutnya dari kami."
	if remaining > 0 {
		text += fmt.Sprintf("\n\nMasih ada %d konfirmasi laporan lain yang menunggu jawaban Anda.", remaining)
	}
	return text
}

func exhaustedFeedbackReply() string {
	return "Laporan ini sudah pernah kami proses ulang, sehingga kami tutup. " +
		"Jika masalah masih berlanjut, silakan buat *laporan baru* melalui menu *1*.\n\n" + menuBody
}

func feedbackQuestionReply(publicID string) string {
	return fmt.Sprintf("Kabar baik! Laporan Anda *%s* telah kami tangani.\n\n"+
		"Apakah Anda puas dengan penanganannya? Jawab *puas* jika sudah, atau *belum* jika belum.",
		publicID)
}
