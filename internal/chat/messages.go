package chat

const (
	disclaimerID = "disclaimer-msg"

	DisclaimerText = "أهلاً بك يا صديقي في عيادة **دكتور عمار (AI)**. 🩺\n\n" +
		"⚠️ **إخلاء مسؤولية:** أنا نظام ذكاء اصطناعي للمساعدة الطبية الأولية. " +
		"في حالات الطوارئ القصوى، لا تعتمد عليّ وتوجه فوراً لأقرب مستشفى.\n\n" +
		"أنا جاهز الآن لسماع شكواك وتشخيص حالتك بدقة. مما تشتكي اليوم؟"

	// DefaultPreview labels a saved conversation with no user message yet.
	DefaultPreview = "استشارة جديدة"

	TransportFailureText = "حدث خطأ في الاتصال. حاول مرة أخرى."

	MissingCredentialText = "Model client is not configured: the provider API key is missing. " +
		"Set GEMINI_API_KEY (or the key for AI_PROVIDER) and restart the server."

	previewRunes = 30
)
